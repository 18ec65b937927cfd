package search

import "strings"

// MapLabel resolves a free-form embedding label to a vector field.
// Rules are checked in order and the first match wins; the order
// matters because the later substrings are contained in the earlier
// ones ("image_text_embedding" must resolve to the caption field, not
// the text field). Unrecognized labels fall back to text_embedding.
func MapLabel(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	switch {
	case strings.Contains(l, "image_text"), strings.Contains(l, "img_text"):
		return FieldImageCaptionEmbedding
	case strings.Contains(l, "video_text"), strings.Contains(l, "vid_text"):
		return FieldVideoTranscriptEmbedding
	case strings.Contains(l, "text"), strings.Contains(l, "tembed"):
		return FieldTextEmbedding
	case strings.Contains(l, "image"), strings.Contains(l, "img"), strings.Contains(l, "iembed"):
		return FieldImageEmbedding
	case strings.Contains(l, "video"), strings.Contains(l, "vid"), strings.Contains(l, "vembed"):
		return FieldVideoEmbedding
	default:
		return FieldTextEmbedding
	}
}
