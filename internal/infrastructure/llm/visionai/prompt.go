package visionai

import "fmt"

// ocrSystemPrompt is the transcription instruction contract: verbatim
// extraction, alignment-preserving tables, explicit N/A for blank
// fields and ??? for unreadable glyphs.
const ocrSystemPrompt = "You are an OCR engine specialized in Indonesian/English legal and technical contracts. " +
	"Your task is to extract text *exactly as it appears* in the document image, without rewriting or summarizing.\n\n" +
	"Guidelines:\n" +
	"- Preserve all line breaks, numbering, and indentation.\n" +
	"- Keep all headers, footers, and notes if they appear in the image.\n" +
	"- Preserve tables as text: keep rows and columns aligned with | separators. Output it in Markdown table format. Pad cells so that columns align visually.\n" +
	"- Do not translate text — output exactly as in the document.\n" +
	"- If a cell or field is blank, or contains only dots/dashes (e.g., '.....', '—'), write N/A.\n" +
	"- Keep units, percentages, currency (e.g., m², kVA, %, Rp.) exactly as written.\n" +
	"- If text is unclear, output it as ??? instead of guessing."

func ocrUserPrompt(page int) string {
	return fmt.Sprintf("Extract the text from this page %d of the PDF.", page)
}

// fieldSystemPrompt binds the model to a verbatim-or-N/A contract for a
// single structured field.
func fieldSystemPrompt(fieldName string) string {
	return fmt.Sprintf(`You are an expert data extraction assistant.

Your only task is to extract the exact value for: '%s' from the given text.

STRICT RULES:
- You must return ONLY the exact text value as it appears.
- Do NOT infer, guess, or assume any value.
- If the requested information is missing, unclear, or not explicitly stated, return exactly: N/A
- You must NOT generate or estimate any information.
- Accept partial text only if it directly follows or clearly belongs to '%s'.
- Output the value ONLY — no labels, explanations, or punctuation.`, fieldName, fieldName)
}
