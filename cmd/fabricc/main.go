// Command fabricc compiles a fabric material description to GLSL and
// optionally renders it to a PNG image.
//
//	fabricc [flags] file.json
//	fabricc -type Brick -png brick.png
package main

import (
	"errors"
	"flag"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/soypat/fabric"
	"github.com/soypat/fabric/glctx"
	"github.com/soypat/fabric/texload"
)

type flags struct {
	strict  bool
	typ     string
	out     string
	pngOut  string
	size    int
	watch   bool
	list    bool
	tree    bool
	verbose bool
}

func main() {
	// GL calls must stay on the main thread.
	runtime.LockOSThread()
	var f flags
	flag.BoolVar(&f.strict, "strict", false, "Fail on unused uniforms, materials and channel selectors")
	flag.StringVar(&f.typ, "type", "", "Compile a registered material type instead of a file")
	flag.StringVar(&f.out, "o", "-", "Fragment program output file, - for stdout, empty to skip")
	flag.StringVar(&f.pngOut, "png", "", "Render the material to a PNG file")
	flag.IntVar(&f.size, "size", 256, "Rendered image width and height in pixels")
	flag.BoolVar(&f.watch, "watch", false, "Recompile when the input file is written")
	flag.BoolVar(&f.list, "list", false, "List built-in material types and exit")
	flag.BoolVar(&f.tree, "tree", false, "Print the generated function tree to stderr")
	flag.BoolVar(&f.verbose, "v", false, "Log debug messages to stderr")
	flag.Parse()
	if f.verbose {
		fabric.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	err := run(f, flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "fabricc:", err)
		os.Exit(1)
	}
}

func run(f flags, path string) error {
	if f.list {
		for _, typ := range fabric.BuiltinTypes() {
			fmt.Println(typ)
		}
		return nil
	}
	if (path == "") == (f.typ == "") {
		return errors.New("need exactly one of a fabric JSON file argument or -type")
	} else if f.watch && path == "" {
		return errors.New("-watch requires a file argument")
	}
	var ctx *glctx.Context
	if f.pngOut != "" {
		var terminate func()
		var err error
		ctx, terminate, err = glctx.Init(f.size, f.size)
		if err != nil {
			return err
		}
		defer terminate()
	}
	cfg := texload.Config{Logger: fabric.Logger()}
	if path != "" {
		// Relative image paths in the fabric are relative to the fabric file.
		dir := filepath.Dir(path)
		cfg.Open = func(name string) (io.ReadCloser, error) {
			if !filepath.IsAbs(name) {
				name = filepath.Join(dir, name)
			}
			return os.Open(name)
		}
	}
	b := builder{flags: f, path: path, ctx: ctx, loader: texload.New(cfg)}
	err := b.build()
	if !f.watch {
		return err
	} else if err != nil {
		fmt.Fprintln(os.Stderr, "fabricc:", err)
	}
	return b.watchLoop()
}

type builder struct {
	flags
	path   string
	ctx    *glctx.Context
	loader *texload.Loader
}

func (b *builder) template() (*fabric.Template, error) {
	if b.path == "" {
		return &fabric.Template{Type: b.typ}, nil
	}
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, err
	}
	return fabric.ParseTemplate(data)
}

func (b *builder) build() error {
	tmpl, err := b.template()
	if err != nil {
		return err
	}
	compiled, err := fabric.Compile(tmpl, fabric.CompileOptions{Strict: b.strict})
	if err != nil {
		return err
	}
	if b.tree {
		fmt.Fprintln(os.Stderr, compiled.Tree())
	}
	switch b.out {
	case "":
	case "-":
		_, err = os.Stdout.WriteString(compiled.Fragment)
	default:
		err = os.WriteFile(b.out, []byte(compiled.Fragment), 0o644)
	}
	if err != nil {
		return err
	}
	if b.ctx == nil {
		return nil
	}
	return b.render(tmpl)
}

func (b *builder) render(tmpl *fabric.Template) error {
	m, err := fabric.NewMaterial(fabric.Config{
		Context: b.ctx,
		Strict:  b.strict,
		Fabric:  tmpl,
		Loader:  b.loader,
	})
	if err != nil {
		return err
	}
	defer m.Destroy()
	// The first draw starts image loads and binds placeholders.
	err = b.ctx.Draw(m)
	if err != nil {
		return err
	}
	b.loader.Wait()
	err = b.ctx.Draw(m)
	if err != nil {
		return err
	}
	img, err := b.ctx.ReadImage()
	if err != nil {
		return err
	}
	fp, err := os.Create(b.pngOut)
	if err != nil {
		return err
	}
	err = png.Encode(fp, img)
	if closeErr := fp.Close(); err == nil {
		err = closeErr
	}
	return err
}

// watchLoop rebuilds on every write of the input file until interrupted.
// Rebuilds run on the calling goroutine which owns the GL context.
func (b *builder) watchLoop() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	target, err := filepath.Abs(b.path)
	if err != nil {
		return err
	}
	// Editors often replace files on save, so watch the directory.
	err = watcher.Add(filepath.Dir(target))
	if err != nil {
		return err
	}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)
	fmt.Fprintln(os.Stderr, "fabricc: watching", b.path)
	for {
		select {
		case <-interrupt:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, _ := filepath.Abs(event.Name)
			if name != target || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			err := b.build()
			if err != nil {
				fmt.Fprintln(os.Stderr, "fabricc:", strings.TrimSpace(err.Error()))
			} else {
				fmt.Fprintln(os.Stderr, "fabricc: rebuilt", b.path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(os.Stderr, "fabricc: watcher:", err)
		}
	}
}
