package expression

import "github.com/chriscow/empathic-go/pkg/emotion"

type facePayload struct {
	Data      string     `json:"data"`
	Models    faceModels `json:"models"`
	PayloadID string     `json:"payload_id"`
}

type faceModels struct {
	Face struct{} `json:"face"`
}

type textPayload struct {
	Text      string         `json:"text"`
	Models    languageModels `json:"models"`
	PayloadID string         `json:"payload_id"`
}

type languageModels struct {
	Language languageOptions `json:"language"`
}

type languageOptions struct {
	Granularity string `json:"granularity"`
}

type response struct {
	Face      *modelResult `json:"face"`
	Language  *modelResult `json:"language"`
	Error     string       `json:"error"`
	Code      string       `json:"code"`
	PayloadID string       `json:"payload_id"`
}

type modelResult struct {
	Predictions []struct {
		Emotions []emotion.Score `json:"emotions"`
	} `json:"predictions"`
	Warning string `json:"warning"`
}

// scores returns the emotions of the first prediction, face before language.
func (r response) scores() ([]emotion.Score, bool) {
	for _, m := range []*modelResult{r.Face, r.Language} {
		if m != nil && len(m.Predictions) > 0 && len(m.Predictions[0].Emotions) > 0 {
			return m.Predictions[0].Emotions, true
		}
	}
	return nil, false
}

func (r response) warning() string {
	for _, m := range []*modelResult{r.Face, r.Language} {
		if m != nil && m.Warning != "" {
			return m.Warning
		}
	}
	return ""
}
