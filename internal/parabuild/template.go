package parabuild

import (
	"os"
	"text/template"

	"golang.org/x/xerrors"
)

// render parses the template at templatePath against the helper funcs and
// writes the result to outputPath, flushing and closing before returning —
// the build script that runs next expects the rendered file to already be on
// disk. Mirrors the original crate's handlebars render_to_write, with a
// `default` helper matching handlebars_helper.rs: default(x, y) yields y
// when x is absent/null, else x.
func render(templatePath, outputPath string, binding Binding) error {
	data, err := decode(binding)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(templatePath)
	if err != nil {
		return xerrors.Errorf("reading template %s: %w", templatePath, err)
	}

	tpl, err := template.New("tpl").Funcs(template.FuncMap{
		"default": defaultHelper,
	}).Parse(string(raw))
	if err != nil {
		return xerrors.Errorf("parsing template %s: %w", templatePath, err)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return xerrors.Errorf("creating %s: %w", outputPath, err)
	}
	defer out.Close()

	if err := tpl.Execute(out, data); err != nil {
		return xerrors.Errorf("rendering %s: %w", outputPath, err)
	}
	return out.Sync()
}

// defaultHelper implements {{default .N 42}}: yields the fallback when x is
// nil (absent from the binding, or explicitly JSON null).
func defaultHelper(x, fallback any) any {
	if x == nil {
		return fallback
	}
	return x
}
