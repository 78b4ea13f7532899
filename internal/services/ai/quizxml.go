package ai

import (
	"encoding/xml"
	"strings"
)

const quizCategoryPrefix = "$course$/Generated Quizzes/"

// EscapeCDATA splits any "]]>" so the text can sit inside a single CDATA section
func EscapeCDATA(s string) string {
	return strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>")
}

// ExportQuizXML renders quiz in the Moodle XML question format: a category question
// named after prompt followed by one single-answer multichoice question per item.
func ExportQuizXML(prompt string, quiz *Quiz) string {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString("<quiz>\n")

	b.WriteString("  <question type=\"category\">\n")
	b.WriteString("    <category><text>")
	escapeText(&b, quizCategoryPrefix+prompt)
	b.WriteString("</text></category>\n")
	b.WriteString("  </question>\n")

	for _, q := range quiz.Questions {
		b.WriteString("  <question type=\"multichoice\">\n")
		b.WriteString("    <name><text>")
		escapeText(&b, questionName(q))
		b.WriteString("</text></name>\n")
		b.WriteString("    <questiontext format=\"html\"><text>")
		cdata(&b, q.QuestionText)
		b.WriteString("</text></questiontext>\n")
		b.WriteString("    <defaultgrade>1.0000000</defaultgrade>\n")
		b.WriteString("    <penalty>0.3333333</penalty>\n")
		b.WriteString("    <hidden>0</hidden>\n")
		b.WriteString("    <single>true</single>\n")
		b.WriteString("    <shuffleanswers>true</shuffleanswers>\n")
		b.WriteString("    <answernumbering>abc</answernumbering>\n")
		answer(&b, "100", q.CorrectAnswer, "Correct!")
		for _, wrong := range q.IncorrectAnswers {
			answer(&b, "0", wrong, "Incorrect.")
		}
		b.WriteString("  </question>\n")
	}

	b.WriteString("</quiz>\n")
	return b.String()
}

func answer(b *strings.Builder, fraction, text, feedback string) {
	b.WriteString("    <answer fraction=\"" + fraction + "\" format=\"html\">\n")
	b.WriteString("      <text>")
	cdata(b, text)
	b.WriteString("</text>\n")
	b.WriteString("      <feedback format=\"html\"><text>" + feedback + "</text></feedback>\n")
	b.WriteString("    </answer>\n")
}

func cdata(b *strings.Builder, s string) {
	b.WriteString("<![CDATA[")
	b.WriteString(EscapeCDATA(stripInvalidXML(s)))
	b.WriteString("]]>")
}

func escapeText(b *strings.Builder, s string) {
	// strings.Builder never returns a write error
	_ = xml.EscapeText(b, []byte(s))
}

func questionName(q QuizQuestion) string {
	if name := strings.TrimSpace(q.Name); name != "" {
		return name
	}
	text := strings.TrimSpace(q.QuestionText)
	if len([]rune(text)) > 60 {
		text = string([]rune(text)[:60])
	}
	return text
}

// stripInvalidXML drops characters XML 1.0 cannot carry, even inside CDATA
func stripInvalidXML(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20, r == 0xFFFE, r == 0xFFFF:
			return -1
		case r >= 0xD800 && r <= 0xDFFF:
			return -1
		default:
			return r
		}
	}, s)
}
