package logging

import "log/slog"

// Field names shared by the webhook service and the operator CLI.
const (
	FieldService      = "service"
	FieldRequestID    = "request_id"
	FieldIP           = "ip"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldStatus       = "status"
	FieldDuration     = "duration_ms"
	FieldError        = "error"
	FieldSignature    = "source_signature"
	FieldTransferSig  = "transfer_signature"
	FieldWallet       = "wallet"
	FieldAmount       = "amount"
	FieldSequenceKind = "sequence_kind"
	FieldExecutor     = "executor"
	FieldPurchaseID   = "purchase_id"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// IP returns a slog attribute for the client IP address.
func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error. A nil error renders as "".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Signature returns a slog attribute for the payment's source signature.
func Signature(sig string) slog.Attr {
	return slog.String(FieldSignature, sig)
}

// TransferSignature returns a slog attribute for an outbound transfer signature.
func TransferSignature(sig string) slog.Attr {
	return slog.String(FieldTransferSig, sig)
}

// Wallet returns a slog attribute for a wallet address.
func Wallet(addr string) slog.Attr {
	return slog.String(FieldWallet, addr)
}

// Amount returns a slog attribute for a decimal amount rendered as a string.
func Amount(amount string) slog.Attr {
	return slog.String(FieldAmount, amount)
}

// SequenceKind returns a slog attribute for the delivery sequence kind.
func SequenceKind(kind string) slog.Attr {
	return slog.String(FieldSequenceKind, kind)
}

// Executor returns a slog attribute naming the transfer executor.
func Executor(name string) slog.Attr {
	return slog.String(FieldExecutor, name)
}

// PurchaseID returns a slog attribute for a delivery record's purchase id.
func PurchaseID(id string) slog.Attr {
	return slog.String(FieldPurchaseID, id)
}
