package bulk

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/bulk-loader/internal/errors"
	"github.com/bulk-loader/internal/types"
)

// Encoder renders batches into request payloads.
//
// Every record is written over the job's field union. A field with a value
// is written as an element; an empty field (absent, null or empty text) is
// written as an xsi:nil element only when nulls are sent and the field is
// not excluded, otherwise it is left out. A nested record is a relationship
// reference: its fields go inside an sObject element under the field name,
// under the same rule.
type Encoder struct {
	fields     []string
	sendNulls  bool
	exclusions map[string]struct{}
}

// NewEncoder returns an encoder over fields
func NewEncoder(fields []string, sendNulls bool, exclusions map[string]struct{}) *Encoder {
	if exclusions == nil {
		exclusions = map[string]struct{}{}
	}
	return &Encoder{fields: fields, sendNulls: sendNulls, exclusions: exclusions}
}

// Encode renders a batch. A query batch is sent verbatim.
func (e *Encoder) Encode(b *Batch) ([]byte, error) {
	if b.Kind == PayloadRawQuery {
		return []byte(b.Query), nil
	}

	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	fmt.Fprintf(&buf, `<sObjects xmlns="%s" xmlns:xsi="%s">`, Namespace, xsiNamespace)
	for _, rec := range b.Records {
		buf.WriteString("<sObject>")
		if err := e.writeFields(&buf, e.fields, rec); err != nil {
			return nil, err
		}
		buf.WriteString("</sObject>")
	}
	buf.WriteString("</sObjects>")
	return buf.Bytes(), nil
}

func (e *Encoder) writeFields(buf *bytes.Buffer, fields []string, rec *types.Record) error {
	for _, name := range fields {
		v := rec.Get(name)

		if v.IsNested() {
			nested := v.Record()
			if !validFieldName(name) {
				return errors.NewValidationError("field name", fmt.Sprintf("%q is not a valid element name", name))
			}
			for _, f := range nested.Fields() {
				if !validFieldName(f) {
					return errors.NewValidationError("field name", fmt.Sprintf("%q is not a valid element name", f))
				}
			}
			fmt.Fprintf(buf, "<%s><sObject>", name)
			if err := e.writeFields(buf, nested.Fields(), nested); err != nil {
				return err
			}
			fmt.Fprintf(buf, "</sObject></%s>", name)
			continue
		}

		if v.IsEmpty() {
			if _, excluded := e.exclusions[name]; e.sendNulls && !excluded {
				fmt.Fprintf(buf, `<%s xsi:nil="true"/>`, name)
			}
			continue
		}

		fmt.Fprintf(buf, "<%s>", name)
		if err := xml.EscapeText(buf, []byte(v.String())); err != nil {
			return errors.NewInternalError("failed to escape field "+name, err)
		}
		fmt.Fprintf(buf, "</%s>", name)
	}
	return nil
}
