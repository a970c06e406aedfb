package internalcheck

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// Serialized key blobs must be compared with crypto/subtle, never with a
// data-dependent == / != that an attacker can time.
func TestNoDirectByteSliceComparison(t *testing.T) {
	cfg := &packages.Config{
		Mode: packages.NeedSyntax | packages.NeedTypes | packages.NeedTypesInfo | packages.NeedFiles | packages.NeedName,
	}

	pkgs, err := packages.Load(cfg, scannedPackages...)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	var findings []string

	for _, pkg := range pkgs {
		for _, file := range pkg.Syntax {
			fset := pkg.Fset
			info := pkg.TypesInfo

			ast.Inspect(file, func(n ast.Node) bool {
				be, ok := n.(*ast.BinaryExpr)
				if !ok {
					return true
				}
				if be.Op != token.EQL && be.Op != token.NEQ {
					return true
				}

				if isByteSequence(info.TypeOf(be.X)) && isByteSequence(info.TypeOf(be.Y)) {
					pos := fset.Position(be.Pos())
					findings = append(findings, fmt.Sprintf("%s: compare byte sequences with crypto/subtle", pos))
				}

				return true
			})
		}
	}

	if len(findings) > 0 {
		t.Fatalf("constant-time policy violation:\n%s", strings.Join(findings, "\n"))
	}
}

func isByteSequence(typ types.Type) bool {
	switch tt := typ.(type) {
	case nil:
		return false
	case *types.Slice:
		return isByteKind(tt.Elem())
	case *types.Array:
		return isByteKind(tt.Elem())
	case *types.Pointer:
		return isByteSequence(tt.Elem())
	case *types.Named:
		return isByteSequence(tt.Underlying())
	default:
		return false
	}
}

func isByteKind(t types.Type) bool {
	basic, ok := t.(*types.Basic)
	return ok && basic.Kind() == types.Byte
}
