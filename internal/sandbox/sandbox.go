// Package sandbox interprets LLM-authored rendering scripts with Yaegi
// instead of compiling them. Interpretation avoids go-build hangs and
// version skew, and the import whitelist plus context deadline bound what
// untrusted instructions can do.
package sandbox

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/oviney/economist-agents-sub001/internal/canvas"
)

// CanvasImportPath is the import path scripts use to reach the drawing API.
const CanvasImportPath = "chartqa/canvas"

// EntryFunc is the function every script must define:
// func Draw(c *canvas.Canvas) error
const EntryFunc = "Draw"

// canvasSymbols exposes the canvas API to interpreted scripts.
var canvasSymbols = interp.Exports{
	CanvasImportPath + "/canvas": {
		"Canvas": reflect.ValueOf((*canvas.Canvas)(nil)),
		"New":    reflect.ValueOf(canvas.New),
	},
}

// Evaluator runs rendering scripts against a canvas.
type Evaluator struct {
	// Whitelist of importable packages. Everything else is rejected
	// before evaluation.
	allowedImports map[string]bool
}

// NewEvaluator builds an evaluator with the default whitelist: a few pure
// stdlib packages plus the canvas API. Packages with filesystem, network,
// exec, or clock access stay out.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		allowedImports: map[string]bool{
			"fmt":            true,
			"math":           true,
			"sort":           true,
			"strconv":        true,
			"strings":        true,
			CanvasImportPath: true,
		},
	}
}

// Evaluate interprets the script and invokes its Draw function against c.
// Parse failures, forbidden imports, a missing or ill-typed Draw, panics
// inside the script, and deadline expiry all come back as errors; the
// caller treats any of them as a failed render.
func (e *Evaluator) Evaluate(ctx context.Context, script string, c *canvas.Canvas) error {
	if err := e.validateImports(script); err != nil {
		return fmt.Errorf("invalid imports: %w", err)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("failed to load stdlib symbols: %w", err)
	}
	if err := i.Use(canvasSymbols); err != nil {
		return fmt.Errorf("failed to load canvas symbols: %w", err)
	}

	if _, err := i.Eval(wrapScript(script)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}

	v, err := i.Eval("main." + EntryFunc)
	if err != nil {
		return fmt.Errorf("%s function not found: %w", EntryFunc, err)
	}
	draw, ok := v.Interface().(func(*canvas.Canvas) error)
	if !ok {
		return fmt.Errorf("%s has incorrect signature (expected: func(*canvas.Canvas) error)", EntryFunc)
	}

	errChan := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("script panicked: %v", r)
			}
		}()
		errChan <- draw(c)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("%s failed: %w", EntryFunc, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("script execution timed out: %w", ctx.Err())
	}
}

// validateImports scans the script's import statements against the
// whitelist. Runs before any evaluation.
func (e *Evaluator) validateImports(script string) error {
	var imports []string
	inBlock := false
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock && trimmed != "":
			imports = append(imports, importPath(trimmed))
		case strings.HasPrefix(trimmed, "import "):
			imports = append(imports, importPath(strings.TrimPrefix(trimmed, "import ")))
		}
	}

	var forbidden []string
	for _, pkg := range imports {
		if pkg == "" {
			continue
		}
		if !e.allowedImports[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports detected: %v", forbidden)
	}
	return nil
}

// importPath extracts the quoted path from an import line, tolerating an
// alias prefix.
func importPath(line string) string {
	start := strings.Index(line, `"`)
	if start < 0 {
		return strings.TrimSpace(line)
	}
	rest := line[start+1:]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return strings.TrimSpace(line)
	}
	return rest[:end]
}

// wrapScript puts bare scripts into a main package so the LLM may omit
// the package clause.
func wrapScript(script string) string {
	if strings.Contains(script, "package main") {
		return script
	}
	return "package main\n\n" + script
}
