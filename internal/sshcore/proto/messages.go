// Package proto defines the wire message numbers and disconnect codes for
// both SSH protocol versions . Identifiers here are the normative
// set; every other package refers to messages only through these constants.
package proto

// SSH-1 message numbers (RFC-draft Ylönen '96 plus the 1.5 extensions used
// by 1.2.x servers).
const (
	SSH1MsgDisconnect          = 1
	SSH1SMsgPublicKey          = 2
	SSH1CMsgSessionKey         = 3
	SSH1CMsgUser               = 4
	SSH1CMsgAuthRhosts         = 5
	SSH1CMsgAuthRSA            = 6
	SSH1SMsgAuthRSAChallenge   = 7
	SSH1CMsgAuthRSAResponse    = 8
	SSH1CMsgAuthPassword       = 9
	SSH1CMsgRequestPty         = 10
	SSH1CMsgWindowSize         = 11
	SSH1CMsgExecShell          = 12
	SSH1CMsgExecCmd            = 13
	SSH1SMsgSuccess            = 14
	SSH1SMsgFailure            = 15
	SSH1CMsgStdinData          = 16
	SSH1SMsgStdoutData         = 17
	SSH1SMsgStderrData         = 18
	SSH1CMsgEOF                = 19
	SSH1SMsgExitStatus         = 20
	SSH1MsgChannelOpenConfirm  = 21
	SSH1MsgChannelOpenFailure  = 22
	SSH1MsgChannelData         = 23
	SSH1MsgChannelClose        = 24
	SSH1MsgChannelCloseConfirm = 25
	SSH1MsgIgnore              = 32
	SSH1MsgDebug               = 36
	SSH1CMsgRequestCompression = 37

	SSH1CMsgAuthTIS          = 39
	SSH1SMsgAuthTISChallenge = 40
	SSH1CMsgAuthTISResponse  = 41

	SSH1CMsgAuthCCard          = 70
	SSH1SMsgAuthCCardChallenge = 71
	SSH1CMsgAuthCCardResponse  = 72

	SSH1CMsgPortForwardRequest = 28
	SSH1MsgPortOpen            = 29
	SSH1CMsgAgentRequestFwd    = 30
	SSH1SMsgAgentOpen          = 31
	SSH1SMsgX11Open            = 27
	SSH1CMsgX11RequestForward  = 34
)

// SSH-2 message numbers (RFC 4251/4252/4253/4254, pre-final drafts, plus
// OpenSSH's auth-agent-req@openssh.com extension).
const (
	SSH2MsgDisconnect   = 1
	SSH2MsgIgnore       = 2
	SSH2MsgUnimplemented = 3
	SSH2MsgDebug        = 4
	SSH2MsgServiceRequest = 5
	SSH2MsgServiceAccept  = 6

	SSH2MsgKexInit = 20
	SSH2MsgNewKeys = 21

	SSH2MsgKexDHInit  = 30
	SSH2MsgKexDHReply = 31

	SSH2MsgKexDHGexRequest = 34
	SSH2MsgKexDHGexGroup   = 31
	SSH2MsgKexDHGexInit    = 32
	SSH2MsgKexDHGexReply   = 33

	SSH2MsgUserauthRequest = 50
	SSH2MsgUserauthFailure = 51
	SSH2MsgUserauthSuccess = 52
	SSH2MsgUserauthBanner  = 53
	SSH2MsgUserauthPKOK    = 60

	SSH2MsgGlobalRequest        = 80
	SSH2MsgRequestSuccess       = 81
	SSH2MsgRequestFailure       = 82
	SSH2MsgChannelOpen          = 90
	SSH2MsgChannelOpenConfirm   = 91
	SSH2MsgChannelOpenFailure   = 92
	SSH2MsgChannelWindowAdjust  = 93
	SSH2MsgChannelData          = 94
	SSH2MsgChannelExtendedData  = 95
	SSH2MsgChannelEOF           = 96
	SSH2MsgChannelClose         = 97
	SSH2MsgChannelRequest       = 98
	SSH2MsgChannelSuccess       = 99
	SSH2MsgChannelFailure       = 100
)

// SSH-2 disconnect reason codes.
const (
	DisconnectHostNotAllowedToConnect   = 1
	DisconnectProtocolError             = 2
	DisconnectKeyExchangeFailed         = 3
	DisconnectReserved                  = 4
	DisconnectMACError                  = 5
	DisconnectCompressionError          = 6
	DisconnectServiceNotAvailable       = 7
	DisconnectProtocolVersionNotSupported = 8
	DisconnectHostKeyNotVerifiable      = 9
	DisconnectConnectionLost            = 10
	DisconnectByApplication             = 11
	DisconnectTooManyConnections        = 12
	DisconnectAuthCancelledByUser       = 13
	DisconnectNoMoreAuthMethodsAvailable = 14
	DisconnectIllegalUserName           = 15
)

// ExtendedDataTypeStderr is the only extended-data type currently defined.
const ExtendedDataTypeStderr = 1

// TerminalSignal mirrors the Backend façade's TS_EOF / TS_PING / TS_BRK
// special codes.
type TerminalSignal int

const (
	TSEOF TerminalSignal = iota
	TSPing
	TSBreak
	TSSigINT
	TSSigTERM
	TSSigHUP
	TSSigKILL
)
