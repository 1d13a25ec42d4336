// Package analysis defines the analysis-backend contract and turns item
// bundles into prompts.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/liuchzzyy/paperflow/pkg/models"
)

// fullTextCap bounds how much extracted full text enters a prompt.
const fullTextCap = 60000

// Options tune one analysis call.
type Options struct {
	Model        string
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

// Analyzer is the analysis-backend collaborator. The same bundle may be
// retried safely; no other statefulness is assumed.
type Analyzer interface {
	Analyze(ctx context.Context, bundle *models.Bundle, opts Options) (string, error)
}

// BuildPrompt renders a bundle into the deterministic plain-text block sent
// to the backend. Sections for absent components are left out entirely.
func BuildPrompt(bundle *models.Bundle) string {
	var b strings.Builder

	b.WriteString("Analyze the following library item.\n\n")
	b.WriteString("## Metadata\n")
	fmt.Fprintf(&b, "Title: %s\n", bundle.Title())

	if bundle.Metadata.Creators != "" {
		fmt.Fprintf(&b, "Creators: %s\n", bundle.Metadata.Creators)
	}

	if bundle.Metadata.ItemType != "" {
		fmt.Fprintf(&b, "Type: %s\n", bundle.Metadata.ItemType)
	}

	if bundle.Metadata.Date != "" {
		fmt.Fprintf(&b, "Date: %s\n", bundle.Metadata.Date)
	}

	if bundle.Metadata.DOI != "" {
		fmt.Fprintf(&b, "DOI: %s\n", bundle.Metadata.DOI)
	}

	if bundle.Metadata.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", bundle.Metadata.URL)
	}

	if len(bundle.Metadata.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(bundle.Metadata.Tags, ", "))
	}

	if bundle.Metadata.Abstract != "" {
		b.WriteString("\n## Abstract\n")
		b.WriteString(bundle.Metadata.Abstract)
		b.WriteString("\n")
	}

	if bundle.HasFullText && bundle.FullText != "" {
		text := bundle.FullText
		if len(text) > fullTextCap {
			text = text[:fullTextCap] + "\n[full text truncated]"
		}

		b.WriteString("\n## Full Text\n")
		b.WriteString(text)
		b.WriteString("\n")
	}

	if bundle.HasAnnotations && len(bundle.Annotations) > 0 {
		b.WriteString("\n## Reader Annotations\n")

		for _, annotation := range bundle.Annotations {
			line := annotation.Text
			if annotation.Comment != "" {
				if line != "" {
					line += "; "
				}

				line += "comment: " + annotation.Comment
			}

			if annotation.Page != "" {
				line += " (p. " + annotation.Page + ")"
			}

			fmt.Fprintf(&b, "- %s\n", line)
		}
	}

	// Child records are listed by name only. Note bodies stay out of the
	// prompt so output notes from earlier runs cannot feed back into it.
	if bundle.HasChildren && len(bundle.Children) > 0 {
		b.WriteString("\n## Attached Records\n")

		for _, child := range bundle.Children {
			name := child.Title
			if name == "" {
				name = child.Key
			}

			detail := child.ItemType
			if child.ContentType != "" {
				detail += ", " + child.ContentType
			}

			fmt.Fprintf(&b, "- %s (%s)\n", name, detail)
		}
	}

	return b.String()
}
