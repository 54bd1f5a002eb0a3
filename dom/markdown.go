package dom

import (
	"fmt"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

// Markdown converts the current document to Markdown. Relative links are
// resolved against domain when it is non-empty.
func (d *HTML) Markdown(domain string) (string, error) {
	var (
		md  string
		err error
	)
	if domain != "" {
		md, err = mdConverter.ConvertString(d.String(), converter.WithDomain(domain))
	} else {
		md, err = mdConverter.ConvertString(d.String())
	}
	if err != nil {
		return "", fmt.Errorf("dom: markdown: %w", err)
	}
	return md, nil
}
