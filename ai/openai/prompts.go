package openai

import "fmt"

const expansionResponseSchema = `{
  "type": "object",
  "properties": {
    "terms": {
      "type": "array",
      "items": {
        "type": "string",
        "pattern": "^[a-z0-9]+( [a-z0-9]+)*$"
      },
      "maxItems": %d
    }
  },
  "required": ["terms"],
  "additionalProperties": false
}`

const expansionPromptTemplate = `Expand a clinical search query with closely related search terms and return them as JSON.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- Terms must be lowercase, 1-3 words each.
- Include medical synonyms, standard abbreviations and common lay terms for the conditions, symptoms,
  medications, procedures and body parts in the query.
- Do not repeat the query itself. Do not add unrelated diagnoses. Do not hallucinate.
- If nothing useful can be added, return "terms": [].
- The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.

Example:
Input: "chest pain"
Output:
{"terms":["angina","thoracic pain","chest discomfort"]}

Example (abbreviation):
Input: "sob after mi"
Output:
{"terms":["shortness of breath","dyspnea","myocardial infarction","heart attack"]}

Example (lay wording):
Input: "sugar levels high"
Output:
{"terms":["hyperglycemia","blood glucose","diabetes mellitus"]}`

// buildSystemPrompt creates the system prompt with the schema embedded.
func buildSystemPrompt() string {
	return fmt.Sprintf(expansionPromptTemplate, fmt.Sprintf(expansionResponseSchema, maxExpansionTerms))
}
