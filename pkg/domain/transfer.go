package domain

import "fmt"

// Transfer is how a binary payload reaches the vendor.
type Transfer int

const (
	TransferNone Transfer = iota
	TransferInline
	TransferStaged
	TransferReference
)

func (t Transfer) String() string {
	switch t {
	case TransferInline:
		return "inline"
	case TransferStaged:
		return "staged"
	case TransferReference:
		return "reference"
	default:
		return "none"
	}
}

// ChooseTransfer picks the cheapest viable strategy for p: inline below the
// vendor limit, then an existing object-storage reference, then a staged upload.
func ChooseTransfer(backend string, caps Capabilities, p *Payload) (Transfer, error) {
	if !p.Binary() {
		return TransferNone, nil
	}
	if p.Kind == PayloadImage && !caps.Vision {
		return TransferNone, NewValidationError(backend, "model does not accept images")
	}
	if p.Kind == PayloadPDF && !caps.PDF {
		return TransferNone, NewValidationError(backend, "model does not accept PDF documents")
	}
	if len(p.Data) == 0 {
		if p.URI != "" && caps.RemoteReference {
			return TransferReference, nil
		}
		return TransferNone, NewValidationError(backend, "payload has no data and no usable reference")
	}
	limit := caps.InlineLimit
	if p.Kind == PayloadPDF && caps.PDFInlineLimit > 0 {
		limit = caps.PDFInlineLimit
	}
	if caps.InlineBinary && (limit <= 0 || p.Size() <= limit) {
		return TransferInline, nil
	}
	if p.URI != "" && caps.RemoteReference {
		return TransferReference, nil
	}
	if caps.StagedUpload {
		return TransferStaged, nil
	}
	return TransferNone, NewValidationError(backend,
		fmt.Sprintf("payload of %d bytes exceeds inline limit of %d bytes", p.Size(), limit))
}
