package bptree

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Visualize writes the tree level by level, root first. Internal nodes show
// their separators, leaves show key:value pairs. colored enables terminal
// colors.
func (t *Tree[K, V]) Visualize(w io.Writer, colored bool) error {
	internal := color.New(color.FgCyan, color.Bold)
	leaf := color.New(color.FgGreen)
	label := color.New(color.FgYellow)
	if !colored {
		internal.DisableColor()
		leaf.DisableColor()
		label.DisableColor()
	}

	level := []node[K, V]{t.root}
	for depth := 0; len(level) > 0; depth++ {
		if _, err := label.Fprintf(w, "L%d: ", depth); err != nil {
			return err
		}
		var next []node[K, V]
		for i, n := range level {
			if i > 0 {
				if _, err := io.WriteString(w, " "); err != nil {
					return err
				}
			}
			var err error
			switch x := n.(type) {
			case *leafNode[K, V]:
				parts := make([]string, len(x.keys))
				for j, k := range x.keys {
					parts[j] = fmt.Sprintf("%v:%v", k, x.values[j])
				}
				_, err = leaf.Fprintf(w, "[%s]", strings.Join(parts, " "))
			case *internalNode[K, V]:
				_, err = internal.Fprintf(w, "%v", x.keys)
				next = append(next, x.children...)
			}
			if err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
		level = next
	}
	return nil
}

// String renders the tree without colors.
func (t *Tree[K, V]) String() string {
	var sb strings.Builder
	_ = t.Visualize(&sb, false)
	return sb.String()
}
