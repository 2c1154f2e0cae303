// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2025 Spanlink Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fault

// GenericError - error base
type GenericError string

// to allow for different classes of errors
//
// frame and protocol errors are fatal to their link: once framing or
// peer bookkeeping is suspect the stream position cannot be trusted
// and the only recovery is link teardown
type ExistsError GenericError
type FrameError GenericError
type InvalidError GenericError
type LinkError GenericError
type NotFoundError GenericError
type ProcessError GenericError
type ProtocolError GenericError

// common errors - keep in alphabetic order
var (
	AlreadyInitialised        = ProcessError("already initialised")
	CannotCreateOnClosing     = ProcessError("cannot create transaction on closing link")
	CertificateFileExists     = ExistsError("certificate file already exists")
	CircuitNotFound           = ProtocolError("circuit id does not match an open transaction")
	CreateOnOpenTransaction   = ProtocolError("create flag received for an already open transaction")
	DuplicateTransaction      = ExistsError("transaction id is already open")
	HeaderChecksumMismatch    = FrameError("header checksum mismatch")
	InvalidCommandFlags       = ProtocolError("contradictory command flags")
	InvalidDescriptor         = InvalidError("invalid service descriptor")
	InvalidDnsTxtRecord       = InvalidError("invalid dns txt record")
	InvalidFingerprint        = InvalidError("invalid fingerprint")
	InvalidNodeDomain         = InvalidError("invalid node domain")
	InvalidHeaderSize         = FrameError("header size code mismatch")
	InvalidIpAddress          = InvalidError("invalid ip Address")
	InvalidLabelLength        = InvalidError("label is too long")
	InvalidMagic              = FrameError("invalid magic value")
	InvalidPayloadLength      = InvalidError("invalid payload length")
	InvalidPingResponse       = InvalidError("ping response mismatch")
	InvalidPortNumber         = InvalidError("invalid port number")
	InvalidStructPointer      = InvalidError("invalid struct pointer")
	InvalidTransactionId      = ProtocolError("transaction id zero is reserved")
	KeyFileExists             = ExistsError("key file already exists")
	LinkAlreadyRegistered     = ExistsError("link is already registered")
	LinkLost                  = LinkError("link lost")
	LinkShuttingDown          = LinkError("link is shutting down")
	MessageOnClosedLink       = LinkError("message on closed link")
	MissingCreateFlag         = ProtocolError("message for unknown transaction without create flag")
	NotInitialised            = ProcessError("not initialised")
	PayloadChecksumMismatch   = FrameError("payload checksum mismatch")
	PayloadTooLarge           = FrameError("payload length exceeds maximum")
	QueueOverflow             = ProcessError("transmit queue overflow")
	RateLimiting              = ProcessError("rate limiting")
	RequestTimeout            = ProcessError("request timeout")
	TransactionAlreadyClosed  = ProcessError("transaction is already closed")
	TransactionAborted        = LinkError("transaction aborted by peer")
	TransactionNotFound       = NotFoundError("transaction id is not open")
	UnexpectedReplyFlag       = ProtocolError("reply flag from transaction creator")
	UnknownProtocol           = NotFoundError("no dispatcher for protocol id")
)

// the error interface base method
func (e GenericError) Error() string { return string(e) }

// the error interface methods
func (e ExistsError) Error() string   { return string(e) }
func (e FrameError) Error() string    { return string(e) }
func (e InvalidError) Error() string  { return string(e) }
func (e LinkError) Error() string     { return string(e) }
func (e NotFoundError) Error() string { return string(e) }
func (e ProcessError) Error() string  { return string(e) }
func (e ProtocolError) Error() string { return string(e) }

// IsErrExists - determine the class of an error
func IsErrExists(e error) bool { _, ok := e.(ExistsError); return ok }

// IsErrFrame - frame errors are fatal to a link
func IsErrFrame(e error) bool { _, ok := e.(FrameError); return ok }

// IsErrInvalid - determine the class of an error
func IsErrInvalid(e error) bool { _, ok := e.(InvalidError); return ok }

// IsErrLink - transport level failures
func IsErrLink(e error) bool { _, ok := e.(LinkError); return ok }

// IsErrNotFound - determine the class of an error
func IsErrNotFound(e error) bool { _, ok := e.(NotFoundError); return ok }

// IsErrProcess - determine the class of an error
func IsErrProcess(e error) bool { _, ok := e.(ProcessError); return ok }

// IsErrProtocol - protocol violations are fatal to a link
func IsErrProtocol(e error) bool { _, ok := e.(ProtocolError); return ok }
