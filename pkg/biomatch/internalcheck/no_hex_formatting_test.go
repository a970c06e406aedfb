package internalcheck

import (
	"fmt"
	"go/ast"
	"go/token"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// Packages that carry key material and must never hex-format it into
// messages. Serialized secrets travelling through fmt verbs end up in logs
// and error chains.
var scannedPackages = []string{
	"github.com/biomatch/biomatch-go/pkg/biomatch",
	"github.com/biomatch/biomatch-go/pkg/biomatch/keyring",
	"github.com/biomatch/biomatch-go/pkg/biomatch/keyswitch",
	"github.com/biomatch/biomatch-go/pkg/biomatch/he/lattice",
	"github.com/biomatch/biomatch-go/pkg/match",
}

func TestNoHexFormattingOfSecrets(t *testing.T) {
	cfg := &packages.Config{
		Mode: packages.NeedSyntax | packages.NeedTypes | packages.NeedTypesSizes | packages.NeedTypesInfo | packages.NeedFiles | packages.NeedName,
	}

	pkgs, err := packages.Load(cfg, scannedPackages...)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	var findings []string

	for _, pkg := range pkgs {
		for _, file := range pkg.Syntax {
			fset := pkg.Fset
			ast.Inspect(file, func(n ast.Node) bool {
				call, ok := n.(*ast.CallExpr)
				if !ok {
					return true
				}

				sel, ok := call.Fun.(*ast.SelectorExpr)
				if !ok {
					return true
				}

				obj := pkg.TypesInfo.Uses[sel.Sel]
				if obj == nil || obj.Pkg() == nil {
					return true
				}

				idx, ok := formatArgIndex(obj.Pkg().Path(), obj.Name())
				if !ok || len(call.Args) <= idx {
					return true
				}

				lit, ok := call.Args[idx].(*ast.BasicLit)
				if !ok || lit.Kind != token.STRING {
					return true
				}

				format, err := strconv.Unquote(lit.Value)
				if err != nil {
					return true
				}

				if strings.Contains(format, "%x") || strings.Contains(format, "%X") {
					pos := fset.Position(lit.Pos())
					findings = append(findings, fmt.Sprintf("%s: %%x formatting is banned in key-handling packages", pos))
				}

				return true
			})
		}
	}

	if len(findings) > 0 {
		t.Fatalf("secret formatting policy violation:\n%s", strings.Join(findings, "\n"))
	}
}

func formatArgIndex(pkgPath, name string) (int, bool) {
	switch pkgPath {
	case "fmt":
		switch name {
		case "Errorf", "Printf", "Sprintf":
			return 0, true
		case "Fprintf":
			return 1, true
		}
	case "log":
		switch name {
		case "Printf", "Fatalf", "Panicf":
			return 0, true
		}
	case "github.com/biomatch/biomatch-go/pkg/biomatch":
		if name == "Errorf" {
			return 1, true
		}
	}
	return 0, false
}
