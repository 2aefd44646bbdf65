// Package codecs builds the payload data converter shared by the worker and
// the CLI. Collection summaries carry a result per subscription and dataset,
// so payloads are compressed once they pass a small size.
package codecs

import (
	commonpb "go.temporal.io/api/common/v1"
	"go.temporal.io/sdk/converter"
)

// DataConverter returns the default JSON converter wrapped in a zlib codec.
// Small payloads are left as is.
func DataConverter() converter.DataConverter {
	return converter.NewCodecDataConverter(
		converter.GetDefaultDataConverter(),
		converter.NewZlibCodec(converter.ZlibCodecOptions{}),
	)
}

// Encode runs payloads through the codec chain; used by tests and tooling
// that inspect stored history.
func Encode(payloads []*commonpb.Payload) ([]*commonpb.Payload, error) {
	return converter.NewZlibCodec(converter.ZlibCodecOptions{}).Encode(payloads)
}

// Decode reverses Encode.
func Decode(payloads []*commonpb.Payload) ([]*commonpb.Payload, error) {
	return converter.NewZlibCodec(converter.ZlibCodecOptions{}).Decode(payloads)
}
