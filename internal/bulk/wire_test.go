package bulk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulk-loader/internal/errors"
	"github.com/bulk-loader/internal/types"
)

func TestMarshalDoc_CreateJob(t *testing.T) {
	body, err := marshalDoc(jobInfoRequest{
		Operation:           "upsert",
		Object:              "Account",
		ExternalIDFieldName: "External_Id__c",
		ConcurrencyMode:     "Serial",
		ContentType:         contentXML,
	})
	require.NoError(t, err)

	s := string(body)
	assert.True(t, strings.HasPrefix(s, xmlHeader+`<jobInfo xmlns="http://www.force.com/2009/06/asyncapi/dataload">`), s)
	assert.Contains(t, s, "<operation>upsert</operation><object>Account</object>")
	assert.Contains(t, s, "<externalIdFieldName>External_Id__c</externalIdFieldName>")
	assert.Contains(t, s, "<concurrencyMode>Serial</concurrencyMode><contentType>XML</contentType>")
	assert.NotContains(t, s, "<state>")
}

func TestMarshalDoc_CloseJob(t *testing.T) {
	body, err := marshalDoc(jobInfoRequest{State: "Closed"})
	require.NoError(t, err)

	s := string(body)
	assert.Contains(t, s, "<state>Closed</state>")
	assert.NotContains(t, s, "<operation>")
	assert.NotContains(t, s, "<object>")
}

func TestDecodeResponse_Exception(t *testing.T) {
	var info JobInfo
	err := decodeResponse("job info", exceptionXML("InvalidJob"), &info)
	require.Error(t, err)

	assert.True(t, errors.IsProtocol(err))
	ce := errors.Categorize(err)
	assert.Equal(t, "InvalidJob", ce.Code)
	assert.Equal(t, "InvalidJob happened", ce.Message)
}

func TestDecodeResponse_Malformed(t *testing.T) {
	var info BatchInfo
	err := decodeResponse("batch info", []byte("<batchInfo><id>751"), &info)
	require.Error(t, err)

	assert.True(t, errors.IsProtocol(err))
	assert.Equal(t, "MALFORMED_RESPONSE", errors.Categorize(err).Code)
}

func TestDecodeResponse_RecordResults(t *testing.T) {
	doc := `<results xmlns="` + Namespace + `">` +
		`<result><id>001A</id><success>true</success><created>true</created></result>` +
		`<result><id/><success>false</success><created>false</created>` +
		`<errors><fields>Name</fields><message>missing</message><statusCode>REQUIRED_FIELD_MISSING</statusCode></errors></result>` +
		`</results>`

	var list recordResultList
	require.NoError(t, decodeResponse("batch result", []byte(doc), &list))
	require.Len(t, list.Results, 2)

	assert.Equal(t, RecordResult{ID: "001A", Success: true, Created: true}, list.Results[0])
	assert.False(t, list.Results[1].Success)
	require.Len(t, list.Results[1].Errors, 1)
	assert.Equal(t, "REQUIRED_FIELD_MISSING", list.Results[1].Errors[0].StatusCode)
	assert.Equal(t, []string{"Name"}, list.Results[1].Errors[0].Fields)
}

func TestDecodeQueryRows(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<queryResult xmlns="http://www.force.com/2009/06/asyncapi/dataload" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
<records xsi:type="sObject">
  <type>Contact</type><Id>003A</Id><Id>003A</Id>
  <LastName>Smith</LastName><Email xsi:nil="true"/>
  <Account xsi:type="sObject"><type>Account</type><Id xsi:nil="true"/><Name>Acme &amp; Co</Name></Account>
</records>
<records xsi:type="sObject">
  <type>Contact</type><Id>003B</Id><LastName>Doe</LastName><Email>d@example.com</Email><Account xsi:nil="true"/>
</records>
</queryResult>`

	rows, err := decodeQueryRows([]byte(doc))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, []string{"type", "Id", "LastName", "Email", "Account"}, first.Fields())
	assert.Equal(t, "003A", first.Get("Id").String())
	assert.Equal(t, types.KindNull, first.Get("Email").Kind())
	require.True(t, first.Get("Account").IsNested())
	account := first.Get("Account").Record()
	assert.Equal(t, "Acme & Co", account.Get("Name").String())
	assert.Equal(t, types.KindNull, account.Get("Id").Kind())

	second := rows[1]
	assert.Equal(t, "d@example.com", second.Get("Email").String())
	assert.Equal(t, types.KindNull, second.Get("Account").Kind())
}

func TestDecodeQueryRows_Exception(t *testing.T) {
	_, err := decodeQueryRows(exceptionXML("InvalidQueryResult"))
	require.Error(t, err)
	assert.True(t, errors.IsProtocol(err))
}
