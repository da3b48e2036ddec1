// Package someip implements the SOME/IP wire message codec: the fixed
// 16-byte header, message type and return code enumerations, and the
// magic-cookie resynchronization pattern used on byte-stream transports.
//
// The codec is payload-opaque: it never inspects or transforms the bytes
// beyond the header. Deserialization of RPC bodies is out of scope.
package someip
