package command

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseXMLCommandStringOnly(t *testing.T) {
	line, blob, err := ParseXML([]byte(`<command><commandString>modulemng list</commandString></command>`))
	require.NoError(t, err)
	assert.Equal(t, "modulemng list", line)
	assert.Nil(t, blob)
}

func TestParseXMLWithBinaryData(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("hello"))
	body := []byte(`<command><commandString>updateModule foo</commandString><binaryData>` + payload + `</binaryData></command>`)
	line, blob, err := ParseXML(body)
	require.NoError(t, err)
	assert.Equal(t, "updateModule foo", line)
	assert.Equal(t, []byte("hello"), blob)
}

func TestParseXMLRejectsMalformedXML(t *testing.T) {
	_, _, err := ParseXML([]byte(`<command><commandString>oops`))
	assert.Error(t, err)
}

func TestParseXMLRejectsMissingCommandString(t *testing.T) {
	_, _, err := ParseXML([]byte(`<command></command>`))
	assert.Error(t, err)
}

func TestParseXMLRejectsBadBase64(t *testing.T) {
	_, _, err := ParseXML([]byte(`<command><commandString>x</commandString><binaryData>not-base64!!</binaryData></command>`))
	assert.Error(t, err)
}

func TestParseXMLRejectsRepeatedCommandString(t *testing.T) {
	_, _, err := ParseXML([]byte(`<command><commandString>a</commandString><commandString>b</commandString></command>`))
	assert.Error(t, err)
}

func TestParseXMLStripsLeadingQuestionMark(t *testing.T) {
	line, blob, err := ParseXML([]byte(`?<command><commandString>modulemng list</commandString></command>`))
	require.NoError(t, err)
	assert.Equal(t, "modulemng list", line)
	assert.Nil(t, blob)
}

func TestTokenizeHandlesQuoting(t *testing.T) {
	assert.Equal(t, []string{"netconf", "eth0", "static ip"}, Tokenize(`netconf eth0 "static ip"`))
	assert.Equal(t, []string{"exec", "it's fine"}, Tokenize(`exec 'it'"'"'s fine'`))
}

func TestModuleNameFromCommandLineBasenames(t *testing.T) {
	assert.Equal(t, "modulemng", ModuleNameFromCommandLine("modulemng list"))
	assert.Equal(t, "osinfo", ModuleNameFromCommandLine("/opt/agent/plugins/osinfo"))
}

func TestIsSelfMutating(t *testing.T) {
	assert.True(t, IsSelfMutating("restart"))
	assert.True(t, IsSelfMutating("updateSoftware"))
	assert.True(t, IsSelfMutating("updateSoftwareForce"))
	assert.False(t, IsSelfMutating("updateModule"))
	assert.False(t, IsSelfMutating("osinfo"))
}
