// CLAUDE:SUMMARY Converts pasted HTML to content via bluemonday UGC sanitizing, html-to-markdown and the Markdown decoder.
package codec

import (
	"context"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/strikethrough"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/hazyhaar/docsync/snapshot"
)

func newPasteConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			strikethrough.NewStrikethroughPlugin(),
			table.NewTablePlugin(),
		),
	)
}

// PasteHTML converts clipboard HTML into content. Scripts, styles and unsafe
// attributes are removed before conversion.
func (r *Registry) PasteHTML(ctx context.Context, markup string) (snapshot.Content, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Content{}, err
	}
	if int64(len(markup)) > r.cfg.MaxInputSize {
		return snapshot.Content{}, malformed("paste too large: %d bytes (max %d)", len(markup), r.cfg.MaxInputSize)
	}
	md, err := r.paste.ConvertString(r.ugc.Sanitize(markup))
	if err != nil {
		return snapshot.Content{}, malformed("paste: %v", err)
	}
	return r.markdown().Decode(md), nil
}
