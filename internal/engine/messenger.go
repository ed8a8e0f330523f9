package engine

import "context"

// Button is one selectable entry in a reply menu. The transport decides
// how to render it (inline keyboard, JSON frame, ...); pressing it comes
// back as a ButtonPress with the same token.
type Button struct {
	Label string
	Token string
}

// Menu is rows of buttons.
type Menu [][]Button

// Messenger is the outbound port to the chat transport.
type Messenger interface {
	SendText(ctx context.Context, conversationID, text string, menu Menu) error
	SendFile(ctx context.Context, conversationID string, data []byte, visibleName, caption string) error

	// SendChatActionHint shows a best-effort "working" indicator.
	// Failures are ignored.
	SendChatActionHint(ctx context.Context, conversationID string)
}

func mainMenu() Menu {
	return Menu{
		{
			{Label: "📄 Merge PDFs", Token: TokenMerge},
			{Label: "✏️ Rename PDF", Token: TokenRename},
		},
		{
			{Label: "💧 Add Watermark", Token: TokenWatermark},
		},
		{
			{Label: "❓ Help", Token: TokenHelp},
			{Label: "🗑️ Clear Session", Token: TokenClear},
		},
	}
}

func cancelMenu() Menu {
	return Menu{{{Label: "❌ Cancel", Token: TokenClear}}}
}

func mergeProgressMenu(fileCount int) Menu {
	var m Menu
	if fileCount >= 2 {
		m = append(m, []Button{{
			Label: confirmMergeLabel(fileCount),
			Token: TokenConfirmMerge,
		}})
	}
	m = append(m, []Button{{Label: "❌ Cancel", Token: TokenClear}})
	return m
}

func positionMenu() Menu {
	return Menu{
		{
			{Label: "Center", Token: "pos_center"},
			{Label: "Top", Token: "pos_top"},
		},
		{
			{Label: "Bottom", Token: "pos_bottom"},
			{Label: "Diagonal", Token: "pos_diagonal"},
		},
		{
			{Label: "Every Page Corner", Token: "pos_corners"},
		},
	}
}

func opacityMenu() Menu {
	return Menu{
		{
			{Label: "0.3", Token: "op_0.3"},
			{Label: "0.5", Token: "op_0.5"},
			{Label: "0.7", Token: "op_0.7"},
			{Label: "0.9", Token: "op_0.9"},
		},
		{
			{Label: "Custom", Token: "op_custom"},
		},
	}
}
