package cli

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bulk-loader/internal/errors"
	"github.com/bulk-loader/internal/types"
)

// Manifest describes one bulk job in YAML
//
//	operation: upsert
//	object: Account
//	externalKey: External_Id__c
//	sendNulls: true
//	nullExclusions: [Fax]
//	records:
//	  - Name: Acme
//	    External_Id__c: A-1
//	    Fax: null
//
// Query jobs set query instead of records. Record fields keep the order
// they are written in.
type Manifest struct {
	Operation      string        `yaml:"operation"`
	Object         string        `yaml:"object"`
	ExternalKey    string        `yaml:"externalKey"`
	Query          string        `yaml:"query"`
	BatchSize      int           `yaml:"batchSize"`
	SendNulls      bool          `yaml:"sendNulls"`
	NullExclusions []string      `yaml:"nullExclusions"`
	Serial         bool          `yaml:"serial"`
	Results        bool          `yaml:"results"`
	Timeout        time.Duration `yaml:"timeout"`
	PollInterval   time.Duration `yaml:"pollInterval"`

	Records []*types.Record `yaml:"-"`
	op      types.Operation
}

// LoadManifest reads and parses a manifest file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is the user's own manifest
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses manifest YAML
func ParseManifest(data []byte) (*Manifest, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewValidationError("manifest", err.Error())
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.NewValidationError("manifest", "must be a mapping")
	}
	root := doc.Content[0]

	var m Manifest
	if err := root.Decode(&m); err != nil {
		return nil, errors.NewValidationError("manifest", err.Error())
	}

	op, err := types.ParseOperation(m.Operation)
	if err != nil {
		return nil, errors.NewValidationError("operation", err.Error())
	}
	m.op = op

	if node := mappingValue(root, "records"); node != nil {
		records, err := decodeRecords(node)
		if err != nil {
			return nil, err
		}
		m.Records = records
	}

	if op.IsQuery() {
		if m.Query == "" {
			return nil, errors.NewValidationError("query", "is required for query jobs")
		}
		if len(m.Records) > 0 {
			return nil, errors.NewValidationError("records", "are not allowed for query jobs")
		}
	} else if m.Query != "" {
		return nil, errors.NewValidationError("query", "is only allowed for query jobs")
	}
	return &m, nil
}

// OperationType returns the normalized operation
func (m *Manifest) OperationType() types.Operation {
	return m.op
}

// Input returns what the job submits: the query text or the records
func (m *Manifest) Input() interface{} {
	if m.op.IsQuery() {
		return m.Query
	}
	return m.Records
}

func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func decodeRecords(node *yaml.Node) ([]*types.Record, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, errors.NewValidationError("records", fmt.Sprintf("must be a list (line %d)", node.Line))
	}
	records := make([]*types.Record, 0, len(node.Content))
	for i, item := range node.Content {
		if item.Kind != yaml.MappingNode {
			return nil, errors.NewValidationError("records", fmt.Sprintf("entry %d must be a mapping (line %d)", i, item.Line))
		}
		rec, err := decodeRecord(item)
		if err != nil {
			return nil, errors.NewValidationError("records", fmt.Sprintf("entry %d: %v", i, err))
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeRecord(mapping *yaml.Node) (*types.Record, error) {
	rec := types.NewRecord()
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, value := mapping.Content[i], mapping.Content[i+1]
		v, err := decodeValue(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key.Value, err)
		}
		rec.Set(key.Value, v)
	}
	return rec, nil
}

func decodeValue(node *yaml.Node) (types.FieldValue, error) {
	switch node.Kind {
	case yaml.MappingNode:
		nested, err := decodeRecord(node)
		if err != nil {
			return types.Absent(), err
		}
		return types.Nested(nested), nil
	case yaml.AliasNode:
		return decodeValue(node.Alias)
	case yaml.ScalarNode:
	default:
		return types.Absent(), fmt.Errorf("lists are not field values (line %d)", node.Line)
	}

	switch node.ShortTag() {
	case "!!null":
		return types.Null(), nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return types.Absent(), err
		}
		return types.Bool(b), nil
	case "!!int":
		var n int64
		if err := node.Decode(&n); err != nil {
			return types.Absent(), err
		}
		return types.Int(n), nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return types.Absent(), err
		}
		return types.Float(f), nil
	case "!!timestamp":
		var t time.Time
		if err := node.Decode(&t); err != nil {
			return types.Absent(), err
		}
		return types.Time(t), nil
	default:
		return types.Text(node.Value), nil
	}
}
