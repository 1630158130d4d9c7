package descriptions

import "sort"

// Tool descriptions shown to operators of dispatch-inspect

const (
	ValidatePDFDescription = `Check that a received document is a PDF the field extractor can open.

**When to use:** A document was left in the spool or moved to rejected/ and the log says the file is unreadable.

**Examples:**
• "Validate /var/spool/dispatch/Einsatzausdruck_FW.pdf"

**Best practices:** Run this before extract_fields; it reports the page count or the reason the file was refused.`

	ExtractFieldsDescription = `Run the field extractor on a document exactly as the sync daemon would.

**When to use:** Checking a layout against a real document, or finding out why a document keeps failing with MISSING_FIELD or IDENTITY_MISMATCH.

**Parameters:** path, kind (initial-dispatch, status-update, closing-protocol, scanned-report), case_id.

**Examples:**
• "Extract the initial-dispatch fields of Einsatzausdruck_FW.pdf for case F20230001"

**Best practices:** The result lists every field or the one error that made the whole extraction fail. Nothing is written anywhere.`

	ReadRegionDescription = `Print the text found inside one rectangle of a page.

**When to use:** Calibrating coordinates for a layout file after the dispatch centre changed its print template.

**Parameters:** path, page (1-based), left, top, width, height in points from the top-left corner.

**Best practices:** Widen the rectangle until the text appears, then shrink it until neighbouring text disappears.`

	ShowLayoutDescription = `Show the field regions configured for a document kind.

**When to use:** Confirming which coordinates the daemon uses, including overrides from the layout file.`

	LedgerGetDescription = `Show what the ledger stores for a case.

**When to use:** Checking whether a case is linked to a registry record (event_id) or whether its dispatch PDF was already parsed.

**Parameters:** case_id, namespace (registry or pdf).`
)

// ToolDescriptions maps tool names to their descriptions
var ToolDescriptions = map[string]string{
	"validate_pdf":   ValidatePDFDescription,
	"extract_fields": ExtractFieldsDescription,
	"read_region":    ReadRegionDescription,
	"show_layout":    ShowLayoutDescription,
	"ledger_get":     LedgerGetDescription,
}

// GetToolDescription returns the description for a tool
func GetToolDescription(toolName string) string {
	if desc, exists := ToolDescriptions[toolName]; exists {
		return desc
	}
	return "Tool description not available"
}

// GetAllToolNames returns all tool names, sorted
func GetAllToolNames() []string {
	names := make([]string, 0, len(ToolDescriptions))
	for name := range ToolDescriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
