package state

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"kgraph/backend/internal/constants"
	apperrors "kgraph/backend/pkg/errors"
)

// Node is a vertex of the knowledge graph
type Node struct {
	ID       int64        `json:"id"`
	Label    string       `json:"label"`
	Type     string       `json:"type"`
	Metadata NodeMetadata `json:"metadata"`
}

// Edge is a directed, weighted relationship between two nodes
type Edge struct {
	ID       int64        `json:"id"`
	SourceID int64        `json:"sourceId"`
	TargetID int64        `json:"targetId"`
	Label    string       `json:"label"`
	Weight   float64      `json:"weight"`
	Metadata EdgeMetadata `json:"metadata"`
}

// SemanticContext carries the theme a node was filed under by the provider
type SemanticContext struct {
	Theme      string   `json:"theme,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// NodeMetadata holds the known optional node attributes. Keys the model does
// not know about are kept in Extra and written back unchanged.
type NodeMetadata struct {
	Description      string           `json:"description,omitempty"`
	Provenance       string           `json:"provenance,omitempty"`
	ImageURL         string           `json:"imageUrl,omitempty"`
	ImageDescription string           `json:"imageDescription,omitempty"`
	DocumentContext  string           `json:"documentContext,omitempty"`
	SemanticContext  *SemanticContext `json:"semanticContext,omitempty"`
	Extra            map[string]any   `json:"-"`
}

// EdgeMetadata holds the known optional edge attributes plus an escape hatch
type EdgeMetadata struct {
	Confidence  *float64       `json:"confidence,omitempty"`
	Reasoning   string         `json:"reasoning,omitempty"`
	ValidatedAt *time.Time     `json:"validatedAt,omitempty"`
	Provenance  string         `json:"provenance,omitempty"`
	Extra       map[string]any `json:"-"`
}

var nodeMetadataKeys = map[string]bool{
	"description": true, "provenance": true, "imageUrl": true,
	"imageDescription": true, "documentContext": true, "semanticContext": true,
}

var edgeMetadataKeys = map[string]bool{
	"confidence": true, "reasoning": true, "validatedAt": true, "provenance": true,
}

type nodeMetadataAlias NodeMetadata
type edgeMetadataAlias EdgeMetadata

// MarshalJSON flattens Extra next to the known keys
func (m NodeMetadata) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(nodeMetadataAlias(m), m.Extra, nodeMetadataKeys)
}

// UnmarshalJSON collects unknown keys into Extra
func (m *NodeMetadata) UnmarshalJSON(data []byte) error {
	var known nodeMetadataAlias
	extra, err := unmarshalWithExtra(data, &known, nodeMetadataKeys)
	if err != nil {
		return err
	}
	*m = NodeMetadata(known)
	m.Extra = extra
	return nil
}

// MarshalJSON flattens Extra next to the known keys
func (m EdgeMetadata) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(edgeMetadataAlias(m), m.Extra, edgeMetadataKeys)
}

// UnmarshalJSON collects unknown keys into Extra
func (m *EdgeMetadata) UnmarshalJSON(data []byte) error {
	var known edgeMetadataAlias
	extra, err := unmarshalWithExtra(data, &known, edgeMetadataKeys)
	if err != nil {
		return err
	}
	*m = EdgeMetadata(known)
	m.Extra = extra
	return nil
}

func marshalWithExtra(known any, extra map[string]any, reserved map[string]bool) ([]byte, error) {
	base, err := json.Marshal(known)
	if err != nil || len(extra) == 0 {
		return base, err
	}
	merged := make(map[string]any, len(extra)+4)
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if !reserved[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

func unmarshalWithExtra(data []byte, known any, reserved map[string]bool) (map[string]any, error) {
	if string(data) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(data, known); err != nil {
		return nil, err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	var extra map[string]any
	for k, v := range all {
		if reserved[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return extra, nil
}

// Clone returns a deep-enough copy for handing out of the graph owner
func (m NodeMetadata) Clone() NodeMetadata {
	out := m
	if m.SemanticContext != nil {
		sc := *m.SemanticContext
		out.SemanticContext = &sc
	}
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Clone returns a deep-enough copy for handing out of the graph owner
func (m EdgeMetadata) Clone() EdgeMetadata {
	out := m
	if m.Confidence != nil {
		c := *m.Confidence
		out.Confidence = &c
	}
	if m.ValidatedAt != nil {
		t := *m.ValidatedAt
		out.ValidatedAt = &t
	}
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// InsertNode is the payload handed to the graph store. A zero ID lets the
// store assign one.
type InsertNode struct {
	ID       int64        `json:"id,omitempty"`
	Label    string       `json:"label"`
	Type     string       `json:"type"`
	Metadata NodeMetadata `json:"metadata"`
}

// InsertEdge is the payload handed to the graph store
type InsertEdge struct {
	SourceID int64        `json:"sourceId"`
	TargetID int64        `json:"targetId"`
	Label    string       `json:"label"`
	Weight   float64      `json:"weight"`
	Metadata EdgeMetadata `json:"metadata"`
}

// Normalize fills label and type defaults
func (n *InsertNode) Normalize() {
	if n.Type == "" {
		n.Type = constants.DefaultNodeType
	}
	if n.Label == "" && n.ID > 0 {
		n.Label = fmt.Sprintf(constants.DefaultNodeLabelForm, n.ID)
	}
}

// Validate checks the programmer contract of a manual node creation
func (n *InsertNode) Validate() error {
	if n.ID < 0 {
		return apperrors.NewInvalidInput("node.id", "must be positive when set")
	}
	return nil
}

// Normalize fills label default
func (e *InsertEdge) Normalize() {
	if e.Label == "" {
		e.Label = constants.DefaultEdgeLabel
	}
}

// Validate checks the programmer contract of a manual edge creation
func (e *InsertEdge) Validate() error {
	if e.SourceID <= 0 {
		return apperrors.NewInvalidInput("edge.sourceId", "must be a positive node id")
	}
	if e.TargetID <= 0 {
		return apperrors.NewInvalidInput("edge.targetId", "must be a positive node id")
	}
	return nil
}

// ProposedNode is an untrusted node suggestion from a reasoning provider.
// Every field may be missing.
type ProposedNode struct {
	ID       int64         `json:"id,omitempty"`
	Label    string        `json:"label,omitempty"`
	Type     string        `json:"type,omitempty"`
	Metadata *NodeMetadata `json:"metadata,omitempty"`
}

// ProposedEdge is an untrusted edge suggestion from a reasoning provider
type ProposedEdge struct {
	SourceID int64         `json:"sourceId,omitempty"`
	TargetID int64         `json:"targetId,omitempty"`
	Label    string        `json:"label,omitempty"`
	Weight   *float64      `json:"weight,omitempty"`
	Metadata *EdgeMetadata `json:"metadata,omitempty"`
}

// Expansion is the provider's answer to one expansion prompt
type Expansion struct {
	Nodes        []*ProposedNode `json:"nodes"`
	Edges        []*ProposedEdge `json:"edges"`
	NextQuestion string          `json:"nextQuestion,omitempty"`
	Reasoning    string          `json:"reasoning,omitempty"`
}

// RelationshipValidation carries per-target confidence scores keyed by node id
type RelationshipValidation struct {
	ConfidenceScores map[int64]float64 `json:"confidenceScores"`
	Reasoning        string            `json:"reasoning"`
}

// RelationshipSuggestion is a provider proposal for a new edge, not applied automatically
type RelationshipSuggestion struct {
	SourceID    int64   `json:"sourceId"`
	TargetID    int64   `json:"targetId"`
	Label       string  `json:"label"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// Image is a base64-encoded image attached to analysed content
type Image struct {
	Data string `json:"data"`
	Type string `json:"type"`
}

// Content is multimodal input for content analysis
type Content struct {
	Text   string  `json:"text"`
	Images []Image `json:"images,omitempty"`
}

var supportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Validate checks that text is present and every image is base64 with a
// supported MIME type
func (c Content) Validate() error {
	if strings.TrimSpace(c.Text) == "" {
		return apperrors.NewInvalidInput("content.text", "text content is required")
	}
	for i, img := range c.Images {
		field := fmt.Sprintf("content.images[%d]", i)
		if !supportedImageTypes[strings.ToLower(img.Type)] {
			return apperrors.NewInvalidInput(field, fmt.Sprintf("unsupported image type %q", img.Type))
		}
		if img.Data == "" {
			return apperrors.NewInvalidInput(field, "image data is empty")
		}
		if _, err := base64.StdEncoding.DecodeString(img.Data); err != nil {
			return apperrors.NewInvalidInput(field, "image data is not valid base64")
		}
	}
	return nil
}
