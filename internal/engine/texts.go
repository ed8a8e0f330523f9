package engine

import "fmt"

// Menu and command tokens recognized by the dispatch table.
const (
	TokenMerge        = "merge"
	TokenRename       = "rename"
	TokenWatermark    = "watermark"
	TokenHelp         = "help"
	TokenClear        = "clear"
	TokenCancel       = "cancel"
	TokenConfirmMerge = "confirm_merge"

	tokenPositionPrefix = "pos_"
	tokenOpacityPrefix  = "op_"
	tokenOpacityCustom  = "op_custom"
)

const welcomeText = `🤖 *Welcome to PDF Utility Bot!*

I can help you with:
• 📄 *Merge PDFs* - Combine multiple PDFs into one
• ✏️ *Rename PDF* - Change PDF filename
• 💧 *Add Watermark* - Add text watermark to PDF

*How to use:*
1. Choose an option below
2. Follow the step-by-step instructions
3. Download your processed file

⚠️ *Limits:* Max 20MB per file, PDF only`

const helpText = `📚 *Available Commands:*
/start - Show main menu
/help - Show this help message
/cancel - Cancel current operation

🔧 *Features:*
1. *Merge PDFs*: Upload multiple PDFs, then confirm to merge
2. *Rename PDF*: Upload PDF and provide new filename
3. *Add Watermark*: Upload PDF, then specify text, position, and opacity

⚠️ *Important:*
• Only PDF files accepted
• Max file size: 20MB
• Files are deleted after processing
• One operation at a time`

const mergeInstructions = `📄 *Merge PDFs Mode*

*How to merge:*
1. Send me PDF files one by one
2. Files will be merged in the order you send them
3. Click ✅ Confirm Merge when done

⚠️ *Note:* Only PDF files accepted, max 20MB each

Send your first PDF file now...`

const renameInstructions = `✏️ *Rename PDF Mode*

Please send me the PDF file you want to rename.
I'll ask for the new filename afterwards.

⚠️ *Note:* Only PDF files accepted, max 20MB`

const watermarkInstructions = `💧 *Add Watermark Mode*

Please send me the PDF file you want to watermark.
Then I'll ask for:
1. Watermark text
2. Position (center, top, bottom, diagonal, corners)
3. Opacity (transparency level)

⚠️ *Note:* Only PDF files accepted, max 20MB`

const (
	cancelledText     = "✅ Operation cancelled. What would you like to do next?"
	clearedText       = "✅ Session cleared. What would you like to do?"
	nextText          = "What would you like to do next?"
	useMenuText       = "Please select an option from the menu first."
	expiredText       = "❌ Session expired. Please use /start"
	notPDFText        = "❌ Please send a PDF file only. Other formats are not supported."
	badSignatureText  = "❌ That file does not look like a valid PDF."
	needTwoFilesText  = "❌ Need at least 2 PDFs to merge. Send another file."
	askFilenameText   = "✅ PDF received!\n\nNow please send me the *new filename* (without .pdf extension):\nExample: `my_document_v2`"
	askWatermarkText  = "✅ PDF received!\n\nNow please send me the *watermark text* you want to add:"
	badFilenameText   = "❌ Invalid filename. Please try again."
	fileGoneText      = "❌ File not found. Please upload again."
	badWatermarkText  = "❌ Watermark text must be 1-100 plain characters. Please try again."
	missingParamsText = "❌ Missing watermark parameters. Please use /start"
	customOpacityText = "Please enter opacity value (0.1 to 1.0):\nExample: `0.4`"
	badOpacityText    = "❌ Please enter a number between 0.1 and 1.0"
	mergingText       = "🔄 Merging your PDFs... This may take a moment."
	apologyText       = "❌ Something went wrong on our side. Please try again or use /start"
)

func tooLargeText(maxBytes int64) string {
	return fmt.Sprintf("❌ File too large. Max size: %dMB", maxBytes>>20)
}

func fileAddedText(name string, count int) string {
	return fmt.Sprintf("📄 *%s* added!\n\nTotal files: %d\n\nClick 'Confirm Merge' when ready, or send more PDFs.", name, count)
}

func confirmMergeLabel(count int) string {
	return fmt.Sprintf("✅ Confirm Merge (%d files)", count)
}

func positionChosenText(position string) string {
	return fmt.Sprintf("📍 Position set to: *%s*\n\nNow choose opacity (transparency level):", position)
}

func watermarkTextChosen(text string) string {
	short := text
	if len(short) > 50 {
		short = short[:50]
	}
	return fmt.Sprintf("✅ Watermark text: *%s*\n\nNow choose position for the watermark:", short)
}

func transformFailedText(what, detail string) string {
	return fmt.Sprintf("❌ Error %s: %s", what, detail)
}
