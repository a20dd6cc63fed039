package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nexus-kernel/agentkernel/internal/llm"
	"github.com/nexus-kernel/agentkernel/pkg/models"
)

// knowledgeTriggerRegex is a cheap pre-filter over the preference verbs
// and identity/factual-statement cues the spec calls out (§4.4: "only
// explicitly-stated preferences ... and durable facts are kept; casual
// mentions are discarded"). It decides whether the extraction LLM call
// is worth making at all, mirroring the teacher's regex-trigger
// classifiers elsewhere in the agent package. Durable facts are not an
// English-only phenomenon (scenario S1/S2 exercise Italian), so the cue
// list covers the same languages as the planner's acknowledgement set.
var knowledgeTriggerRegex = regexp.MustCompile(`(?i)\b(` +
	// English
	`prefer|prefers|like|likes|love|loves|hate|hates|dislike|always|never|` +
	`favorite|favourite|my name is|i work|i live|i use|i am a|i'm a|` +
	`born|birthday|allergic|my email|my phone|my address|i'm from|i am from|` +
	// Italian
	`preferisco|mi piace|mi piacciono|odio|sono nat[ao]|mi chiamo|sono un|sono una|` +
	// Spanish
	`prefiero|me gusta|odio|nac[ií]|me llamo|soy un|soy una|` +
	// French
	`préfère|j'aime|déteste|né[e]?|je m'appelle|je suis|` +
	// German
	`bevorzuge|mag|hasse|geboren|ich heiße|ich bin` +
	`)\b`)

// datelikeRegex flags statements carrying a concrete date, which is a
// strong durable-fact signal independent of language (birthdates,
// anniversaries, deadlines).
var datelikeRegex = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{1,2}[/.]\d{1,2}[/.]\d{2,4}|\d{1,2}\s+\p{L}+\s+\d{4}|\p{L}+\s+\d{1,2},?\s+\d{4})\b`)

// shouldExtract reports whether content is worth an extraction call:
// either it matches a known preference/identity cue in one of the
// languages above, or it carries a date, which durable facts often do
// regardless of phrasing or language.
func shouldExtract(content string) bool {
	return knowledgeTriggerRegex.MatchString(content) || datelikeRegex.MatchString(content)
}

// FactType classifies an extracted knowledge item.
type FactType string

const (
	FactTypeFact       FactType = "fact"
	FactTypePreference FactType = "preference"
	FactTypeEvent      FactType = "event"
)

// ExtractedFact is one atomic item the Knowledge Agent pulled out of the
// latest user turn, before it is checked and committed to memory.
type ExtractedFact struct {
	Type       FactType
	Importance float32
	Text       string
}

// Checker is the Semantic Integrity Checker (C10) contract the
// Integrity Agent calls before a candidate is committed to long-term
// memory.
type Checker interface {
	Check(ctx context.Context, tenantID, userID string, candidate *models.MemoryEntry) (*CheckResult, error)
}

// CheckResult is C10's verdict on one candidate memory entry.
type CheckResult struct {
	Contradicts  bool
	ExistingID   string
	Confidence   float64
	ExistingText string
}

// MemoryWriter is the subset of the Memory Manager (C1) the Knowledge
// Agent needs to commit a cleared fact to long-term memory.
type MemoryWriter interface {
	AddLong(ctx context.Context, tenantID, userID, content string, importance float32, sourceSessions []string) (*models.MemoryEntry, error)
}

// ContradictionConfidenceThreshold is C10's gate for raising a
// contradiction task (§4.10 "confidence ≥ 0.90").
const ContradictionConfidenceThreshold = 0.90

// KnowledgeAgent extracts atomic facts/preferences from the latest user
// turn, checks each against existing long-term memory via Checker, and
// commits the ones that clear to memory via MemoryWriter (§4.4).
type KnowledgeAgent struct {
	provider  llm.Provider
	model     string
	integrity *IntegrityAgent
	memory    MemoryWriter
	schema    *jsonschema.Schema
}

const factsResponseSchema = `{
  "type": "object",
  "required": ["facts"],
  "properties": {
    "facts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "text"],
        "properties": {
          "type": { "enum": ["fact", "preference", "event"] },
          "importance": { "type": "number", "minimum": 0, "maximum": 1 },
          "text": { "type": "string" }
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

// NewKnowledgeAgent constructs a KnowledgeAgent. memory may be nil;
// integrity wraps the collaborators the kernel's composition root wires
// in (C10 checker, C6 queue).
func NewKnowledgeAgent(provider llm.Provider, model string, integrity *IntegrityAgent, memory MemoryWriter) (*KnowledgeAgent, error) {
	var doc any
	if err := json.Unmarshal([]byte(factsResponseSchema), &doc); err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("facts_response.json", doc); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("facts_response.json")
	if err != nil {
		return nil, err
	}
	return &KnowledgeAgent{provider: provider, model: model, integrity: integrity, memory: memory, schema: schema}, nil
}

// Run executes the Knowledge Agent node. It never mutates
// state.AssistantDraft; extraction failures are swallowed (logged by
// the caller) since knowledge extraction must never block the
// user-visible response.
func (k *KnowledgeAgent) Run(ctx context.Context, state *State) *State {
	next := state.Clone()
	if state.Message == nil || state.Message.Role != models.RoleUser {
		return next
	}
	if !shouldExtract(state.Message.Content) {
		return next
	}

	facts, err := k.extract(ctx, state.Message.Content)
	if err != nil {
		return next
	}

	tenantID := ""
	userID := ""
	sessionID := ""
	if state.Session != nil {
		tenantID = state.Session.TenantID
		userID = state.Session.UserID
		sessionID = state.Session.ID
	}

	for _, fact := range facts {
		k.commit(ctx, tenantID, userID, sessionID, fact)
	}
	return next
}

func (k *KnowledgeAgent) extract(ctx context.Context, content string) ([]ExtractedFact, error) {
	messages := []llm.Message{
		{Role: "system", Content: "Extract durable facts and explicitly-stated preferences from the user's message. " +
			"Respond with {\"facts\": [{\"type\":\"fact|preference|event\", \"importance\":0-1, \"text\":\"...\"}]}. " +
			"Ignore casual remarks that carry no durable information."},
		{Role: "user", Content: content},
	}
	resp, err := k.provider.Generate(ctx, messages, nil, llm.Options{Model: k.model})
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return nil, fmt.Errorf("extraction output is not valid json: %w", err)
	}
	if err := k.schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("extraction output failed schema validation: %w", err)
	}

	var raw struct {
		Facts []struct {
			Type       string  `json:"type"`
			Importance float32 `json:"importance"`
			Text       string  `json:"text"`
		} `json:"facts"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, err
	}

	out := make([]ExtractedFact, 0, len(raw.Facts))
	for _, f := range raw.Facts {
		if strings.TrimSpace(f.Text) == "" {
			continue
		}
		out = append(out, ExtractedFact{Type: FactType(f.Type), Importance: f.Importance, Text: f.Text})
	}
	return out, nil
}

func (k *KnowledgeAgent) commit(ctx context.Context, tenantID, userID, sessionID string, fact ExtractedFact) {
	candidate := &models.MemoryEntry{
		TenantID:   tenantID,
		UserID:     userID,
		SessionID:  sessionID,
		Tier:       models.TierLong,
		Content:    fact.Text,
		Importance: fact.Importance,
		Metadata:   models.MemoryMetadata{Source: "message", Role: string(models.RoleUser), Tags: []string{string(fact.Type)}},
	}

	if k.integrity != nil && !k.integrity.Evaluate(ctx, tenantID, userID, candidate) {
		return
	}

	if k.memory != nil {
		_, _ = k.memory.AddLong(ctx, tenantID, userID, fact.Text, fact.Importance, []string{sessionID})
	}
}
