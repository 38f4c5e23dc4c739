package main

import (
	"bytes"
	"html/template"
	"log"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	AboutMe = `I work on fixed-income analytics and like tools that stay **small and honest**:
a script, a data file and a page that shows what matters.

Most of what lives here started as a notebook and ended up as a tiny service.`

	ProjectOne = `**Bond yield map.** A daily treemap of the highest-yielding short RUB bonds
on the Moscow Exchange: fixed coupons only, listing level 1, maturity within two years.
Click a cell to copy its SECID.`

	ProjectTwo = `**MOEX ISS builder.** Pages through the ISS bond board, merges market data
and yields by SECID, filters out floaters and indexed issues and writes a compact JSON file.`

	ProjectThree = `**This site.** Go, Gin and a sprinkle of Plotly, with privacy-conscious
analytics stored in SQLite.`
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM, extension.Typographer))

// renderMarkdown converts site copy to HTML. The copy is authored in this
// file, so the output is trusted.
func renderMarkdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		log.Printf("Error rendering markdown: %v", err)
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}

func homeContent() map[string]template.HTML {
	return map[string]template.HTML{
		"aboutMeContent":      renderMarkdown(AboutMe),
		"projectOneContent":   renderMarkdown(ProjectOne),
		"projectTwoContent":   renderMarkdown(ProjectTwo),
		"projectThreeContent": renderMarkdown(ProjectThree),
	}
}
