// File: internal/recovery/ai/templates.go
package ai

import (
	"strings"

	"github.com/jsodeh/sabi/api/schemas"
)

// responseTemplates hold the category-specific last-resort texts. Placeholders
// ({step}, {tool}, {topic}) are filled from the request context.
var responseTemplates = map[schemas.ResponseCategory]string{
	schemas.ResponseLearning: "Let's keep going with {step}. Take it one part at a time, and use the highlighted area of {tool} as your guide.",
	schemas.ResponseExplanation: "In short: {topic} is part of how {tool} builds your page. You don't need the details right now to finish {step}.",
	schemas.ResponseInstruction: "Next, in {tool}: complete {step}. Look for the highlighted control and follow the on-screen hint.",
	schemas.ResponseDefault: "Let's continue with your current step in {tool}. Follow the highlighted area on screen.",
}

// templateDefaults fill placeholders the request context leaves empty.
var templateDefaults = map[string]string{
	"step":  "the current step",
	"tool":  "the web builder",
	"topic": "this",
}

// fillTemplate renders the category template for the request.
func fillTemplate(req schemas.AIRequest) string {
	tmpl, ok := responseTemplates[req.Category]
	if !ok {
		tmpl = responseTemplates[schemas.ResponseDefault]
	}

	pairs := make([]string, 0, len(templateDefaults)*2)
	for key, def := range templateDefaults {
		val := req.Context[key]
		if val == "" {
			val = def
		}
		pairs = append(pairs, "{"+key+"}", val)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
