package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/bacstack/bacnet"
)

var decodeLayer string

var decodeCmd = &cobra.Command{
	Use:   "decode [hex]",
	Short: "Decode a captured BACnet telegram",
	Long: `Decode prints the BVLC, NPDU and APDU layers of a telegram and the
tags of its service data. The telegram is read from the argument or, when
absent, from standard input. Whitespace and colons in the hex are ignored.

Examples:
  # A broadcast Who-Is
  edgeo-bacnet decode 810b000c0120ffff00ff1008

  # An APDU without lower layers
  edgeo-bacnet decode --layer apdu 1000c4020002572204009100210f`,

	Args: cobra.MaximumNArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().StringVar(&decodeLayer, "layer", "auto", "Outermost layer of the input (auto, bvlc, npdu, apdu)")
}

// decodedLayer is one line of decoder output.
type decodedLayer struct {
	Layer  string `json:"layer"`
	Detail string `json:"detail"`
}

func runDecode(cmd *cobra.Command, args []string) error {
	var text string
	if len(args) == 1 {
		text = args[0]
	} else {
		b, err := io.ReadAll(bufio.NewReader(os.Stdin))
		if err != nil {
			return err
		}
		text = string(b)
	}

	data, err := parseHex(text)
	if err != nil {
		return err
	}

	layers, err := decodeTelegram(decodeLayer, data)
	f := NewFormatter(outputFormat())
	rows := make([][]string, len(layers))
	for i, l := range layers {
		rows[i] = []string{l.Layer, l.Detail}
	}
	if perr := f.Print([]string{"LAYER", "DETAIL"}, rows, layers); perr != nil {
		return perr
	}
	return err
}

func parseHex(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':', '-':
			return -1
		}
		return r
	}, s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty telegram")
	}
	return data, nil
}

// decodeTelegram decodes data starting at layer. The layers decoded before
// an error are returned along with it.
func decodeTelegram(layer string, data []byte) ([]decodedLayer, error) {
	if layer == "auto" {
		switch data[0] {
		case bacnet.BVLCTypeBACnetIP:
			layer = "bvlc"
		case bacnet.NPDUVersion:
			layer = "npdu"
		default:
			layer = "apdu"
		}
	}

	var out []decodedLayer
	switch layer {
	case "bvlc":
		b, err := bacnet.DecodeBVLC(data)
		if err != nil {
			return out, err
		}
		detail := b.Function.String()
		switch {
		case b.Origin.IsValid():
			detail += " origin=" + b.Origin.String()
		case b.Function == bacnet.BVLCResult:
			detail += fmt.Sprintf(" result=0x%04x", b.Result)
		case b.Function == bacnet.BVLCRegisterForeignDevice:
			detail += fmt.Sprintf(" ttl=%ds", b.TTL)
		}
		out = append(out, decodedLayer{"bvlc", detail})
		if b.NPDU == nil {
			return out, nil
		}
		data = b.NPDU
		fallthrough

	case "npdu":
		n, apdu, err := bacnet.DecodeNPDU(data)
		if err != nil {
			return out, err
		}
		out = append(out, decodedLayer{"npdu", n.String()})
		if n.NetworkMessage {
			if len(n.NetworkData) > 0 {
				out = append(out, decodedLayer{"network-data", hex.EncodeToString(n.NetworkData)})
			}
			return out, nil
		}
		data = apdu
		fallthrough

	case "apdu":
		a, err := bacnet.DecodeAPDU(data)
		if err != nil {
			return out, err
		}
		out = append(out, decodedLayer{"apdu", a.String()})
		service, err := decodeService(a)
		out = append(out, service...)
		return out, err
	}
	return nil, fmt.Errorf("unknown layer %q", layer)
}

// decodeService decodes the service data of the well-known services and
// falls back to a tag listing for the rest.
func decodeService(a *bacnet.APDU) ([]decodedLayer, error) {
	if len(a.Data) == 0 {
		return nil, nil
	}
	if a.Segmented {
		return []decodedLayer{{"segment", hex.EncodeToString(a.Data)}}, nil
	}

	var detail string
	switch {
	case a.Type == bacnet.PDUTypeUnconfirmedRequest && a.Service == uint8(bacnet.ServiceWhoIs):
		w, err := bacnet.DecodeWhoIs(a.Data)
		if err != nil {
			return nil, err
		}
		detail = fmt.Sprintf("low=%s high=%s", limit(w.Low), limit(w.High))
	case a.Type == bacnet.PDUTypeUnconfirmedRequest && a.Service == uint8(bacnet.ServiceIAm):
		i, err := bacnet.DecodeIAm(a.Data)
		if err != nil {
			return nil, err
		}
		detail = fmt.Sprintf("device=%s max-apdu=%d segmentation=%s vendor=%d",
			i.Device, i.MaxAPDULength, i.Segmentation, i.VendorID)
	case a.Type == bacnet.PDUTypeConfirmedRequest && a.Service == uint8(bacnet.ServiceReadProperty):
		r, err := bacnet.DecodeReadPropertyRequest(a.Data)
		if err != nil {
			return nil, err
		}
		detail = fmt.Sprintf("object=%s property=%s%s", r.Object, r.Property, index(r.ArrayIndex))
	case a.Type == bacnet.PDUTypeComplexAck && a.Service == uint8(bacnet.ServiceReadProperty):
		r, err := bacnet.DecodeReadPropertyAck(a.Data)
		if err != nil {
			return nil, err
		}
		detail = fmt.Sprintf("object=%s property=%s%s value=%s",
			r.Object, r.Property, index(r.ArrayIndex), formatValues(r.Values))
	case a.Type == bacnet.PDUTypeConfirmedRequest && a.Service == uint8(bacnet.ServiceWriteProperty):
		w, err := bacnet.DecodeWritePropertyRequest(a.Data)
		if err != nil {
			return nil, err
		}
		detail = fmt.Sprintf("object=%s property=%s%s value=%s",
			w.Object, w.Property, index(w.ArrayIndex), formatValues(w.Values))
		if w.Priority != nil {
			detail += fmt.Sprintf(" priority=%d", *w.Priority)
		}
	case a.Type == bacnet.PDUTypeError:
		e, err := bacnet.DecodeErrorPayload(a.Data)
		if err != nil {
			return nil, err
		}
		detail = e.Error()
	default:
		return decodeTags(a.Data)
	}
	return []decodedLayer{{"service", detail}}, nil
}

// decodeTags lists the tags of unknown service data.
func decodeTags(data []byte) ([]decodedLayer, error) {
	var out []decodedLayer
	d := bacnet.NewDecoder(data)
	depth := 0
	for !d.Done() {
		t, payload, err := d.Next()
		if err != nil {
			return out, err
		}
		if t.Kind == bacnet.TagClosing {
			depth--
		}
		detail := strings.Repeat("  ", max(depth, 0)) + t.String()
		if t.Class == bacnet.TagClassApplication {
			if v, err := bacnet.Decode(t, payload); err == nil {
				detail += " " + formatValue(v)
			}
		} else if len(payload) > 0 {
			detail += " " + hex.EncodeToString(payload)
		}
		if t.Kind == bacnet.TagOpening {
			depth++
		}
		out = append(out, decodedLayer{"tag", detail})
	}
	return out, nil
}

func limit(v *uint32) string {
	if v == nil {
		return "*"
	}
	return fmt.Sprintf("%d", *v)
}

func index(v *uint32) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("[%d]", *v)
}
