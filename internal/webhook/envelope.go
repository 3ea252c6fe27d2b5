package webhook

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/veritas-ed/docproc/internal/common"
)

// PushEnvelope is the at-least-once push delivery wrapper. Only
// message.data is load-bearing; messageId and publishTime are carried
// for logging.
type PushEnvelope struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription"`
}

type PushMessage struct {
	Data        string `json:"data"`
	MessageID   string `json:"messageId"`
	PublishTime string `json:"publishTime"`
}

// CompletionPayload is the producer-defined notification body. Fields
// are best-effort: the job reference is name falling back to operation,
// and the result location is the nested gcsDestination falling back to
// the flat outputGcsDestination.
type CompletionPayload struct {
	Name                 string           `json:"name"`
	Operation            string           `json:"operation"`
	Metadata             *PayloadMetadata `json:"metadata"`
	OutputGCSDestination string           `json:"outputGcsDestination"`
}

type PayloadMetadata struct {
	OutputConfig *OutputConfig `json:"outputConfig"`
}

type OutputConfig struct {
	GCSDestination *GCSDestination `json:"gcsDestination"`
}

type GCSDestination struct {
	URI string `json:"uri"`
}

// JobRef resolves the external job reference, preferring name.
func (p *CompletionPayload) JobRef() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Operation
}

// LocationHint resolves the optional direct result location.
func (p *CompletionPayload) LocationHint() string {
	if p.Metadata != nil && p.Metadata.OutputConfig != nil && p.Metadata.OutputConfig.GCSDestination != nil {
		if uri := p.Metadata.OutputConfig.GCSDestination.URI; uri != "" {
			return uri
		}
	}
	return p.OutputGCSDestination
}

// payloadSchema type-checks the decoded payload at the boundary. It
// deliberately requires nothing: presence of the job reference is an
// application rule, checked after parsing.
const payloadSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"operation": {"type": "string"},
		"outputGcsDestination": {"type": "string"},
		"metadata": {
			"type": "object",
			"properties": {
				"outputConfig": {
					"type": "object",
					"properties": {
						"gcsDestination": {
							"type": "object",
							"properties": {
								"uri": {"type": "string"}
							}
						}
					}
				}
			}
		}
	}
}`

var (
	compileSchemaOnce sync.Once
	compiledSchema    *jsonschema.Schema
	compileSchemaErr  error
)

func compilePayloadSchema() (*jsonschema.Schema, error) {
	compileSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("payload.json", strings.NewReader(payloadSchema)); err != nil {
			compileSchemaErr = err
			return
		}
		compiledSchema, compileSchemaErr = compiler.Compile("payload.json")
	})
	return compiledSchema, compileSchemaErr
}

// DecodeEnvelope parses a raw push-delivery body into the typed payload.
// Malformed envelopes fail with ErrInvalidInput; the delivery channel's
// own retry policy governs redelivery, the handler never retries these.
func DecodeEnvelope(body []byte) (*CompletionPayload, *PushMessage, error) {
	var envelope PushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, nil, common.InvalidInputErrorf("malformed push envelope: %v", err)
	}
	if envelope.Message.Data == "" {
		return nil, nil, common.InvalidInputError("push envelope missing message.data")
	}

	raw, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		return nil, nil, common.InvalidInputErrorf("message.data is not valid base64: %v", err)
	}

	schema, err := compilePayloadSchema()
	if err != nil {
		return nil, nil, common.WrapError(common.ErrInternal, "compile payload schema: "+err.Error())
	}
	var loose any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil, nil, common.InvalidInputErrorf("payload is not valid JSON: %v", err)
	}
	if err := schema.Validate(loose); err != nil {
		return nil, nil, common.InvalidInputErrorf("payload does not match schema: %v", err)
	}

	var payload CompletionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, common.InvalidInputErrorf("payload decode: %v", err)
	}
	return &payload, &envelope.Message, nil
}
