// Package response implements the response encoder (C8): it builds the XML
// reply body the dispatcher sends back as a RESPONSE packet, and fragments
// bodies too large for a single packet symmetrically to the inbound rule.
package response

import (
	"encoding/xml"
	"fmt"

	"github.com/pmcloud/serclient/internal/wire"
)

// Type is the outcome reported in <responseType>.
type Type string

const (
	TypeSuccess Type = "Success"
	TypeError   Type = "Error"
	TypeTimeOut Type = "TimeOut"
)

// envelope mirrors the XML shape exactly; encoding/xml escapes each text
// node exactly once, which is what keeps outputString/resultMessage single-
// escaped end to end.
type envelope struct {
	XMLName       xml.Name `xml:"response"`
	ResponseType  Type     `xml:"responseType"`
	ResultCode    int      `xml:"resultCode"`
	ResultMessage string   `xml:"resultMessage"`
	CommandName   string   `xml:"commandName"`
	OutputString  string   `xml:"outputString"`
}

// Response is the reply the supervisor hands to the dispatcher for one
// command.
type Response struct {
	Type          Type
	ResultCode    int
	ResultMessage string
	CommandName   string
	OutputString  string
}

// Encode renders r as the XML body of a RESPONSE packet.
func Encode(r Response) ([]byte, error) {
	body, err := xml.Marshal(envelope{
		ResponseType:  r.Type,
		ResultCode:    r.ResultCode,
		ResultMessage: r.ResultMessage,
		CommandName:   r.CommandName,
		OutputString:  r.OutputString,
	})
	if err != nil {
		return nil, fmt.Errorf("response: encode: %w", err)
	}
	return body, nil
}

// Success builds the reply for a command whose child exited zero.
func Success(commandName, output string) Response {
	return Response{Type: TypeSuccess, ResultCode: 0, CommandName: commandName, OutputString: output}
}

// Error builds the reply for a command that failed: a missing module, a
// spawn failure, or a non-zero child exit.
func Error(commandName, message string, code int) Response {
	return Response{Type: TypeError, ResultCode: code, CommandName: commandName, ResultMessage: message}
}

// TimedOut builds the reply for a command that exceeded its timeout.
func TimedOut(commandName string) Response {
	return Response{Type: TypeTimeOut, ResultCode: 0, CommandName: commandName}
}

// MalformedCommand builds the canned reply for a COMMAND message whose
// body failed to parse as the expected XML shape (§4.5 step 1).
func MalformedCommand(reason string) Response {
	return Response{Type: TypeError, ResultCode: 1, ResultMessage: "malformed command: " + reason}
}

// CommandNotFound builds the reply for a Command whose module resolved to
// nil (§4.7 step 1, §7).
func CommandNotFound(commandName string) Response {
	return Response{Type: TypeError, ResultCode: 1, CommandName: commandName, ResultMessage: "Command not found"}
}

// MaxFragmentBody is the largest body a single RESPONSE packet carries
// before the encoder must fragment. It equals the dispatcher's 8KiB write
// chunk (§4.4 step 3); a full fragment's frame adds the header and footer,
// so the dispatcher writes it in two chunks.
const MaxFragmentBody = 8192

// BuildPackets renders r and packages it as one or more RESPONSE wire
// packets under correlationID, fragmenting symmetrically to the inbound
// rule (§4.3): equal-sized body slices, 1-based indexing, same id.
func BuildPackets(correlationID string, r Response) ([]wire.Packet, error) {
	body, err := Encode(r)
	if err != nil {
		return nil, err
	}
	if len(body) <= MaxFragmentBody {
		return []wire.Packet{wire.NewResponse(correlationID, body)}, nil
	}

	count := (len(body) + MaxFragmentBody - 1) / MaxFragmentBody
	packets := make([]wire.Packet, 0, count)
	for i := 0; i < count; i++ {
		start := i * MaxFragmentBody
		end := start + MaxFragmentBody
		if end > len(body) {
			end = len(body)
		}
		packets = append(packets, wire.NewResponseFragment(correlationID, uint32(i+1), uint32(count), body[start:end]))
	}
	return packets, nil
}
