package gateway

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are an expert in processing images of handwritten notes and converting them into Markdown files for a note-taking tool that supports block attachments and internal links.

Extract a concise, filename-friendly title from the note and convert its full content into Markdown.
- Preserve headings, lists, tables and emphasis that appear in the note.
- Use internal links ([[Page]]) for references to other notes and block attachment embeds (![[file]]) for figures.
- Write inline mathematical expressions between single dollar signs ($...$) and standalone expressions between double dollar signs ($$...$$) on their own lines.

Respond with a JSON object only, with exactly two string keys: "title" and "markdownContent".`

func userPrompt(imageURL, noteID string) string {
	var b strings.Builder
	b.WriteString("Here is the image of the note.\n")
	fmt.Fprintf(&b, "Note ID: %s\n", noteID)
	fmt.Fprintf(&b, "Image URL: %s\n", imageURL)
	b.WriteString("Analyze the image, extract the title and convert the note content into Markdown.")
	return b.String()
}
