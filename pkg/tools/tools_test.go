package tools

import (
	"context"
	"errors"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/vango-go/vai-voice/pkg/core/live"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRouter(t *testing.T) *live.ToolCallRouter {
	t.Helper()
	return live.NewToolCallRouter(time.Second, quiet(), nil)
}

func dispatchOne(t *testing.T, r *live.ToolCallRouter, name string, args map[string]any) live.ToolResult {
	t.Helper()
	results := r.Dispatch(context.Background(), []live.ToolInvocation{{ID: "call-1", Name: name, Args: args}})
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	return results[0]
}

func TestLeadBookCapturesLead(t *testing.T) {
	book := NewLeadBook(quiet())
	r := newRouter(t)
	if err := book.Register(r); err != nil {
		t.Fatalf("Register: %v", err)
	}

	res := dispatchOne(t, r, CaptureLead, map[string]any{"name": " Ada Lovelace ", "email": "ada@example.com"})
	if res.Text() != "OK" || res.IsError || res.ID != "call-1" {
		t.Fatalf("result = %+v", res)
	}
	leads := book.Leads()
	if len(leads) != 1 || leads[0].Name != "Ada Lovelace" || leads[0].ID == "" || leads[0].Phone != "" {
		t.Fatalf("leads = %+v", leads)
	}
}

func TestLeadBookRejectsMissingEmail(t *testing.T) {
	book := NewLeadBook(quiet())
	r := newRouter(t)
	_ = book.Register(r)

	res := dispatchOne(t, r, CaptureLead, map[string]any{"name": "Ada"})
	if !res.IsError || !strings.Contains(res.Text(), "email") {
		t.Fatalf("result = %+v", res)
	}
	if len(book.Leads()) != 0 {
		t.Fatalf("lead stored without email")
	}
}

func TestLeadBookSchedulesAppointment(t *testing.T) {
	book := NewLeadBook(quiet())
	r := newRouter(t)
	_ = book.Register(r)

	res := dispatchOne(t, r, ScheduleAppointment, map[string]any{
		"name": "Grace", "email": "grace@example.com", "date": "this Friday", "time": "2pm",
	})
	if res.Text() != "OK" {
		t.Fatalf("result = %+v", res)
	}
	appts := book.Appointments()
	if len(appts) != 1 || appts[0].Date != "this Friday" || appts[0].Time != "2pm" {
		t.Fatalf("appointments = %+v", appts)
	}

	decls := r.Declarations(CaptureLead, ScheduleAppointment)
	if len(decls) != 2 || len(decls[1].Parameters) != 4 {
		t.Fatalf("declarations = %+v", decls)
	}
}

type fakeImages struct {
	calls   int
	parts   []*genai.Part
	config  *genai.GenerateContentConfig
	respond func(call int) (*genai.GenerateContentResponse, error)
}

func (f *fakeImages) GenerateContent(_ context.Context, _ string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.parts = contents[0].Parts
	f.config = config
	return f.respond(f.calls)
}

func imageResponse(data string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{
			{Text: "here you go"},
			{InlineData: &genai.Blob{Data: []byte(data), MIMEType: "image/png"}},
		}},
	}}}
}

func TestDesignerEditsLatestImage(t *testing.T) {
	fake := &fakeImages{respond: func(call int) (*genai.GenerateContentResponse, error) {
		return imageResponse(strings.Repeat("v", call)), nil
	}}
	dir := t.TempDir()
	d := newDesigner(fake, DesignerOptions{
		Kind:      KitchenDesign,
		Source:    &Image{Data: []byte("photo"), MIMEType: "image/jpeg"},
		OutputDir: dir,
		Logger:    quiet(),
	})
	r := newRouter(t)
	if err := d.Register(r); err != nil {
		t.Fatalf("Register: %v", err)
	}

	res := dispatchOne(t, r, KitchenDesign.Tool, map[string]any{"description": "white shaker cabinets"})
	if res.Text() != "Success, the new kitchen design has been generated and is now displayed." {
		t.Fatalf("first result = %q", res.Text())
	}
	if string(fake.parts[0].InlineData.Data) != "photo" {
		t.Fatalf("first edit base = %q", fake.parts[0].InlineData.Data)
	}
	if !strings.HasSuffix(fake.parts[1].Text, "preserving the original layout: white shaker cabinets") {
		t.Fatalf("prompt = %q", fake.parts[1].Text)
	}
	if len(fake.config.ResponseModalities) != 1 || fake.config.ResponseModalities[0] != "IMAGE" {
		t.Fatalf("modalities = %v", fake.config.ResponseModalities)
	}

	dispatchOne(t, r, KitchenDesign.Tool, map[string]any{"description": "black marble countertop"})
	if string(fake.parts[0].InlineData.Data) != "v" {
		t.Fatalf("second edit base = %q, want first design", fake.parts[0].InlineData.Data)
	}

	history := d.History()
	if len(history) != 2 {
		t.Fatalf("history = %d images", len(history))
	}
	saved, err := os.ReadFile(filepath.Join(dir, "kitchen_design-02.png"))
	if err != nil || string(saved) != "vv" {
		t.Fatalf("saved image = %q, %v", saved, err)
	}
	if history[1].Path == "" {
		t.Fatalf("history path not recorded")
	}
}

func TestDesignerFailureTexts(t *testing.T) {
	src := &Image{Data: []byte("photo"), MIMEType: "image/png"}

	noBase := newDesigner(&fakeImages{}, DesignerOptions{Kind: RoomDesign, Logger: quiet()})
	if got := noBase.Generate(context.Background(), "coastal"); got != "Error: No base image was provided to generate a design from." {
		t.Fatalf("no base = %q", got)
	}

	empty := newDesigner(&fakeImages{respond: func(int) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{}, nil
	}}, DesignerOptions{Kind: RestorationImage, Source: src, Logger: quiet()})
	if got := empty.Generate(context.Background(), "fix it"); got != "Error: The restoration could not be generated. The model did not return an image." {
		t.Fatalf("no image = %q", got)
	}

	failing := newDesigner(&fakeImages{respond: func(int) (*genai.GenerateContentResponse, error) {
		return nil, errors.New("quota exceeded")
	}}, DesignerOptions{Kind: LandscapeDesign, Source: src, Logger: quiet()})
	if got := failing.Generate(context.Background(), "xeriscape"); got != "Error: Image generation failed. quota exceeded" {
		t.Fatalf("request error = %q", got)
	}
	if len(failing.History()) != 0 {
		t.Fatalf("failed edit recorded")
	}
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "kitchen.png")
	if err := os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	img, err := LoadImage(png)
	if err != nil || img.MIMEType != "image/png" {
		t.Fatalf("LoadImage = %+v, %v", img, err)
	}

	txt := filepath.Join(dir, "notes.txt")
	_ = os.WriteFile(txt, []byte("hello"), 0o644)
	if _, err := LoadImage(txt); err == nil {
		t.Fatalf("text file accepted as image")
	}
	if _, err := LoadImage(filepath.Join(dir, "missing.jpg")); err == nil {
		t.Fatalf("missing file accepted")
	}
}

func TestExportedDeclarationsDocumented(t *testing.T) {
	files, err := filepath.Glob("*.go")
	if err != nil {
		t.Fatal(err)
	}
	fset := token.NewFileSet()
	for _, name := range files {
		if strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, name, nil, parser.ParseComments)
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		for _, decl := range f.Decls {
			switch d := decl.(type) {
			case *ast.FuncDecl:
				if d.Name.IsExported() && d.Doc == nil {
					t.Fatalf("%s: %s has no doc comment", fset.Position(d.Pos()), d.Name.Name)
				}
			case *ast.GenDecl:
				if d.Tok != token.TYPE {
					continue
				}
				for _, spec := range d.Specs {
					ts := spec.(*ast.TypeSpec)
					if ts.Name.IsExported() && ts.Doc == nil && d.Doc == nil {
						t.Fatalf("%s: %s has no doc comment", fset.Position(ts.Pos()), ts.Name.Name)
					}
				}
			}
		}
	}
}
