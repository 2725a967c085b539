package ipx800

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nerrad567/ipx800-bridge/internal/state"
)

// ParseStatus reads an IPX800 status document.
//
// Only channels the document actually reports (with a readable value) are
// present in the result. Merge it over the previous snapshot with
// state.Raw.Merge to get the full current state.
//
// Example document:
//
//	<response>
//	  <led0>1</led0>
//	  <led1>0</led1>
//	  <btn0>up</btn0>
//	  <btn1>dn</btn1>
//	</response>
//
// Parameters:
//   - r: Response body
//
// Returns:
//   - state.Raw: The channels found
//   - error: ErrMalformedResponse if the body is not XML or has no channel
func ParseStatus(r io.Reader) (state.Raw, error) {
	dec := xml.NewDecoder(r)
	// Firmware declares ISO-8859-1; channel names and values are plain ASCII.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	raw := state.NewRaw()
	sawRoot := false
	recognised := 0

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return state.Raw{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !sawRoot {
			sawRoot = true
			continue
		}

		name := strings.ToLower(se.Name.Local)
		isInput := state.IsInputChannel(name)
		isOutput := state.IsOutputChannel(name)
		if !isInput && !isOutput {
			continue
		}

		var text string
		if err := dec.DecodeElement(&text, &se); err != nil {
			return state.Raw{}, fmt.Errorf("%w: element %s: %w", ErrMalformedResponse, name, err)
		}
		recognised++

		if isInput {
			if v, ok := parseInputValue(text); ok {
				raw.Inputs[name] = v
			}
			continue
		}
		if v, ok := parseOutputValue(text); ok {
			raw.Outputs[name] = v
		}
	}

	if !sawRoot {
		return state.Raw{}, fmt.Errorf("%w: empty document", ErrMalformedResponse)
	}
	if recognised == 0 {
		return state.Raw{}, fmt.Errorf("%w: no channel elements", ErrMalformedResponse)
	}
	return raw, nil
}

// parseInputValue maps "dn" (pressed) to true and "up" to false.
func parseInputValue(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dn", "down", "1":
		return true, true
	case "up", "0":
		return false, true
	default:
		return false, false
	}
}

// parseOutputValue maps 1/on/true to true and 0/off/false to false.
func parseOutputValue(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "on", "true":
		return true, true
	case "0", "off", "false":
		return false, true
	default:
		return false, false
	}
}
