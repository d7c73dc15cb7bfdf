package tools

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/vango-go/vai-voice/pkg/core/live"
)

// DefaultImageModel edits photos.
const DefaultImageModel = "gemini-2.5-flash-image"

// DesignKind describes one photo-editing tool.
type DesignKind struct {
	Tool             string
	Description      string
	ParamDescription string
	// Result names what a successful edit produced, e.g. "kitchen design".
	Result string
	// Subject names what a failed edit could not produce.
	Subject string
	Prompt  func(request string) string
}

var (
	KitchenDesign = DesignKind{
		Tool:             "generate_kitchen_design",
		Description:      "Generates a new kitchen design image based on the user-provided photo and a text description of the desired changes.",
		ParamDescription: `A detailed prompt describing the desired kitchen style, colors, materials, and layout changes. For example: "A modern kitchen with white shaker cabinets, a navy blue island with a waterfall marble countertop, and gold hardware."`,
		Result:           "kitchen design",
		Subject:          "design",
		Prompt: func(request string) string {
			return "Apply the following style to the user's kitchen image, preserving the original layout: " + request
		},
	}
	RoomDesign = DesignKind{
		Tool:             "generate_room_design",
		Description:      "Generates a new room design image based on the user-provided photo and a text description of the desired changes.",
		ParamDescription: `A detailed prompt describing the desired room style, colors, materials, and layout changes. For example: "A modern living room with a gray sectional sofa, minimalist art, and a large area rug."`,
		Result:           "room design",
		Subject:          "design",
		Prompt: func(request string) string {
			return "Apply the following style to the user's room image, preserving the original layout: " + request
		},
	}
	LandscapeDesign = DesignKind{
		Tool:             "generate_landscape_design",
		Description:      "Generates a new landscape design image based on the user-provided photo and a text description of the desired changes.",
		ParamDescription: `A detailed prompt describing the desired landscape style, plants, hardscaping, and features. For example: "A modern, drought-tolerant xeriscape with native grasses, a gravel pathway, and large decorative boulders."`,
		Result:           "landscape design",
		Subject:          "design",
		Prompt:           landscapePrompt,
	}
	RestorationImage = DesignKind{
		Tool:             "generate_restoration_image",
		Description:      "Generates an image showing the water-damaged area fully repaired and restored based on the user-provided photo and a description.",
		ParamDescription: `A detailed prompt describing the restoration work. For example: "Repair the water stains on the ceiling and wall, and replace the warped wooden floorboards to look like new."`,
		Result:           "restored image",
		Subject:          "restoration",
		Prompt:           restorationPrompt,
	}
)

// DesignKinds indexes the built-in kinds by tool name.
var DesignKinds = map[string]DesignKind{
	KitchenDesign.Tool:    KitchenDesign,
	RoomDesign.Tool:       RoomDesign,
	LandscapeDesign.Tool:  LandscapeDesign,
	RestorationImage.Tool: RestorationImage,
}

func landscapePrompt(request string) string {
	return `You are an expert landscape architect AI. Your task is to intelligently redesign the user's yard based on the provided image and their request.

**Key Instructions:**
1.  **Preserve Core Structures:** Do NOT change the house, large existing trees, or the fundamental layout of the property. Focus ONLY on the landscaping elements (lawn, garden beds, pathways, borders, etc.).
2.  **Redesign and Replace:** When the user asks for a new design, you must completely REPLACE old, messy, or undesirable elements with new, clean ones. DO NOT just paint over the old elements.
3.  **Incorporate New Features:** Add new elements like plants, flower beds, stone patios, walkways, and other hardscaping features as described in the user's request.
4.  **Realism:** The final image should look realistic and seamlessly integrated.

**User's Request:**
` + request
}

func restorationPrompt(request string) string {
	return `You are an expert photo editor specializing in water damage restoration. Your task is to realistically repair the damage shown in the user's photo.

**Key Instructions:**
1.  **Identify and Repair:** Analyze the image to find all signs of water damage, including stains, peeling paint, warped flooring, damaged baseboards and visible mold.
2.  **Seamless Restoration:** Make the room look as if the damage never happened. REMOVE the damaged areas and REPLACE them with restored surfaces.
3.  **Match Existing Surfaces:** Match the original paint color, texture, flooring material, and wood finish. The restored area should not look like a patch.
4.  **Preserve the Room:** Do NOT change the room's layout, furniture, or any undamaged elements.

**User's Request:**
` + request
}

// Image is an encoded picture.
type Image struct {
	Data     []byte
	MIMEType string
	// Path is where the image was read from or saved to, if anywhere.
	Path string
}

// LoadImage reads a photo from disk.
func LoadImage(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mt, "image/") {
		return nil, fmt.Errorf("read image: %s is %s, not an image", path, mt)
	}
	return &Image{Data: data, MIMEType: mt, Path: path}, nil
}

type imageGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// DesignerOptions configures a Designer.
type DesignerOptions struct {
	Kind  DesignKind
	Model string
	// Source is the user's original photo.
	Source *Image
	// OutputDir receives each generated image when set.
	OutputDir string
	Logger    *slog.Logger
}

// Designer edits the user's photo on request. Each edit starts from the
// most recent generated image, or the source photo before the first one.
type Designer struct {
	models imageGenerator
	opts   DesignerOptions

	busy    sync.Mutex
	mu      sync.Mutex
	history []Image
}

// NewDesigner returns a designer that generates images with client.
func NewDesigner(client *genai.Client, opts DesignerOptions) *Designer {
	return newDesigner(client.Models, opts)
}

func newDesigner(models imageGenerator, opts DesignerOptions) *Designer {
	if opts.Model == "" {
		opts.Model = DefaultImageModel
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Designer{models: models, opts: opts}
}

// Register adds the designer's tool to r.
func (d *Designer) Register(r *live.ToolCallRouter) error {
	decl := live.ToolDeclaration{
		Name:        d.opts.Kind.Tool,
		Description: d.opts.Kind.Description,
		Parameters: []live.ToolParameter{
			{Name: "description", Type: "string", Description: d.opts.Kind.ParamDescription, Required: true},
		},
	}
	return r.Register(decl, d.handle)
}

// History returns the generated images, oldest first.
func (d *Designer) History() []Image {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Image(nil), d.history...)
}

func (d *Designer) handle(ctx context.Context, args map[string]any) (string, error) {
	request := stringArg(args, "description")
	if err := requireArgs(map[string]string{"description": request}); err != nil {
		return "", err
	}
	return d.Generate(ctx, request), nil
}

// Generate runs one edit and returns the text reported back to the model.
// Edits are serialized.
func (d *Designer) Generate(ctx context.Context, request string) string {
	d.busy.Lock()
	defer d.busy.Unlock()

	base := d.base()
	if base == nil {
		return "Error: No base image was provided to generate a design from."
	}

	resp, err := d.models.GenerateContent(ctx, d.opts.Model, []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: base.Data, MIMEType: base.MIMEType}},
			{Text: d.opts.Kind.Prompt(request)},
		},
	}}, &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityImage)},
	})
	if err != nil {
		d.opts.Logger.Warn("image generation failed", "tool", d.opts.Kind.Tool, "error", err)
		return fmt.Sprintf("Error: Image generation failed. %v", err)
	}

	img := firstImage(resp)
	if img == nil {
		d.opts.Logger.Warn("model returned no image", "tool", d.opts.Kind.Tool)
		return fmt.Sprintf("Error: The %s could not be generated. The model did not return an image.", d.opts.Kind.Subject)
	}
	if d.opts.OutputDir != "" {
		if err := d.save(img); err != nil {
			d.opts.Logger.Warn("saving generated image failed", "error", err)
		}
	}

	d.mu.Lock()
	d.history = append(d.history, *img)
	n := len(d.history)
	d.mu.Unlock()
	d.opts.Logger.Info("design generated", "tool", d.opts.Kind.Tool, "version", n, "path", img.Path)
	return fmt.Sprintf("Success, the new %s has been generated and is now displayed.", d.opts.Kind.Result)
}

func (d *Designer) base() *Image {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := len(d.history); n > 0 {
		img := d.history[n-1]
		return &img
	}
	return d.opts.Source
}

func (d *Designer) save(img *Image) error {
	if err := os.MkdirAll(d.opts.OutputDir, 0o755); err != nil {
		return err
	}
	ext := ".png"
	switch img.MIMEType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/webp":
		ext = ".webp"
	}
	d.mu.Lock()
	name := fmt.Sprintf("%s-%02d%s", strings.TrimPrefix(d.opts.Kind.Tool, "generate_"), len(d.history)+1, ext)
	d.mu.Unlock()
	path := filepath.Join(d.opts.OutputDir, name)
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		return err
	}
	img.Path = path
	return nil
}

func firstImage(resp *genai.GenerateContentResponse) *Image {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return &Image{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}
		}
	}
	return nil
}
