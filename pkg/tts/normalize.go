package tts

import "strings"

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Normalize flattens line breaks into spaces so engines read the text as
// one utterance.
func Normalize(text string) string {
	return lineBreaks.Replace(text)
}
