package packet

import "fmt"

// ReasonCode is a numeric MQTT reason/return code paired with a short
// English description. It implements error so it can be returned directly
// from a failed acknowledgement wait.
//
type ReasonCode struct {
	Code   byte
	Reason string
}

func (rc ReasonCode) Error() string {
	return fmt.Sprintf("0x%02X: %s", rc.Code, rc.Reason)
}

// Success reports whether this code indicates the operation succeeded.
// It applies the MQTT 5.0 §2.4 rule only (any value above 0x7F is an
// error); v3.1.1 CONNACK return codes 0x01-0x05 are failures on the wire
// but report true here.
func (rc ReasonCode) Success() bool {
	return rc.Code <= 0x7F
}

// MQTT v3.1.1 CONNACK return codes (§3.2.2.3).
var (
	Code3Accepted                     = ReasonCode{0x00, "connection accepted"}
	Code3UnsupportedProtocolVersion   = ReasonCode{0x01, "unsupported protocol version"}
	Code3ClientIdentifierNotValid     = ReasonCode{0x02, "client identifier not valid"}
	Code3ServerUnavailable            = ReasonCode{0x03, "server unavailable"}
	Code3MalformedUsernameOrPassword  = ReasonCode{0x04, "malformed username or password"}
	Code3NotAuthorized                = ReasonCode{0x05, "not authorized"}
)

// MQTT v5.0 reason codes (§2.4 + per-packet tables). Not every defined
// reason code is reproduced — only the ones this client either sends,
// needs to recognise as a terminal failure, or uses in its own orphan
// responses.
var (
	CodeSuccess                   = ReasonCode{0x00, "success"}
	CodeNormalDisconnection       = ReasonCode{0x00, "normal disconnection"}
	CodeGrantedQoS0               = ReasonCode{0x00, "granted qos 0"}
	CodeGrantedQoS1               = ReasonCode{0x01, "granted qos 1"}
	CodeGrantedQoS2               = ReasonCode{0x02, "granted qos 2"}
	CodeDisconnectWithWillMessage = ReasonCode{0x04, "disconnect with will message"}
	CodeNoMatchingSubscribers     = ReasonCode{0x10, "no matching subscribers"}
	CodeNoSubscriptionExisted     = ReasonCode{0x11, "no subscription existed"}
	CodeContinueAuthentication    = ReasonCode{0x18, "continue authentication"}
	CodeReAuthenticate            = ReasonCode{0x19, "re-authenticate"}

	CodeUnspecifiedError                      = ReasonCode{0x80, "unspecified error"}
	CodeMalformedPacket                       = ReasonCode{0x81, "malformed packet"}
	CodeProtocolError                         = ReasonCode{0x82, "protocol error"}
	CodeImplementationSpecificError           = ReasonCode{0x83, "implementation specific error"}
	CodeUnsupportedProtocolVersion            = ReasonCode{0x84, "unsupported protocol version"}
	CodeClientIdentifierNotValid              = ReasonCode{0x85, "client identifier not valid"}
	CodeBadUsernameOrPassword                 = ReasonCode{0x86, "bad username or password"}
	CodeNotAuthorized                         = ReasonCode{0x87, "not authorized"}
	CodeServerUnavailable                     = ReasonCode{0x88, "server unavailable"}
	CodeServerBusy                            = ReasonCode{0x89, "server busy"}
	CodeBanned                                = ReasonCode{0x8A, "banned"}
	CodeServerShuttingDown                    = ReasonCode{0x8B, "server shutting down"}
	CodeBadAuthenticationMethod               = ReasonCode{0x8C, "bad authentication method"}
	CodeKeepAliveTimeout                      = ReasonCode{0x8D, "keep alive timeout"}
	CodeSessionTakenOver                      = ReasonCode{0x8E, "session taken over"}
	CodeTopicFilterInvalid                    = ReasonCode{0x8F, "topic filter invalid"}
	CodeTopicNameInvalid                      = ReasonCode{0x90, "topic name invalid"}
	CodePacketIdentifierInUse                 = ReasonCode{0x91, "packet identifier in use"}
	CodePacketIdentifierNotFound              = ReasonCode{0x92, "packet identifier not found"}
	CodeReceiveMaximumExceeded                = ReasonCode{0x93, "receive maximum exceeded"}
	CodeTopicAliasInvalid                     = ReasonCode{0x94, "topic alias invalid"}
	CodePacketTooLarge                        = ReasonCode{0x95, "packet too large"}
	CodeMessageRateTooHigh                    = ReasonCode{0x96, "message rate too high"}
	CodeQuotaExceeded                         = ReasonCode{0x97, "quota exceeded"}
	CodeAdministrativeAction                  = ReasonCode{0x98, "administrative action"}
	CodePayloadFormatInvalid                  = ReasonCode{0x99, "payload format invalid"}
	CodeRetainNotSupported                    = ReasonCode{0x9A, "retain not supported"}
	CodeQoSNotSupported                       = ReasonCode{0x9B, "qos not supported"}
	CodeUseAnotherServer                      = ReasonCode{0x9C, "use another server"}
	CodeServerMoved                           = ReasonCode{0x9D, "server moved"}
	CodeSharedSubscriptionsNotSupported       = ReasonCode{0x9E, "shared subscriptions not supported"}
	CodeConnectionRateExceeded                = ReasonCode{0x9F, "connection rate exceeded"}
	CodeMaximumConnectTime                    = ReasonCode{0xA0, "maximum connect time"}
	CodeSubscriptionIdentifiersNotSupported   = ReasonCode{0xA1, "subscription identifiers not supported"}
	CodeWildcardSubscriptionsNotSupported     = ReasonCode{0xA2, "wildcard subscriptions not supported"}
)
