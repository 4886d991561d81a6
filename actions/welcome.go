package actions

import "github.com/hazyhaar/docsync/snapshot"

// Welcome returns the document shown to a fresh, non-collaborative session.
func Welcome() snapshot.Content {
	t := snapshot.Text
	return snapshot.New(
		snapshot.Heading(1, t("Welcome to the playground")),
		snapshot.Quote(
			t("In case you were wondering what the black box at the bottom is, it's the debug view, showing the current state of the editor. "),
			t("You can disable it by pressing on the settings control."),
		),
		snapshot.Paragraph(
			t("The playground is a demo environment built with "),
			snapshot.Styled("docsync", snapshot.FormatCode),
			t(". Try typing in "),
			snapshot.Styled("some text", snapshot.FormatBold),
			t(" with "),
			snapshot.Styled("different", snapshot.FormatItalic),
			t(" formats."),
		),
		snapshot.Paragraph(
			t("Make sure to check out the various plugins in the toolbar. You can export the document as JSON, Markdown or HTML, import "),
			snapshot.Styled(".docx", snapshot.FormatCode),
			t(", "),
			snapshot.Styled(".md", snapshot.FormatCode),
			t(" and "),
			snapshot.Styled(".json", snapshot.FormatCode),
			t(" files, or share the document as a link."),
		),
		snapshot.Paragraph(t("If you'd like to find out more, here are some pointers:")),
		snapshot.List(snapshot.ListBullet,
			snapshot.Item(t("Export and import keep the document intact in JSON.")),
			snapshot.Item(t("The markdown button turns the document into its Markdown source and back.")),
			snapshot.Item(t("Connect to a relay to edit together in real time.")),
		),
	)
}
