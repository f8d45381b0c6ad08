package protocol

// Inbound message types accepted from clients.
const (
	TypeAuthenticate   = "authenticate"
	TypeSetScreenName  = "set_screen_name"
	TypeJoinChannel    = "join_channel"
	TypeLeaveChannel   = "leave_channel"
	TypePTTStart       = "push_to_talk_start"
	TypePTTEnd         = "push_to_talk_end"
	TypeAudioData      = "audio_data"
	TypeHistoryRequest = "history_request"
)

// Outbound message types sent to clients.
const (
	TypeAuthenticated   = "authenticated"
	TypeScreenNameSet   = "screen_name_set"
	TypeAuthRequired    = "authentication_required"
	TypeError           = "error"
	TypeChannelJoined   = "channel_joined"
	TypeParticipantJoin = "participant_joined"
	TypeParticipantLeft = "participant_left"
	TypeUserSpeaking    = "user_speaking"
	TypeHistoryResponse = "history_response"
)

// Error codes shared between client and server.
const (
	CodeInvalidToken       = "invalid_token"
	CodeNameTaken          = "name_taken"
	CodeNameInvalid        = "name_invalid"
	CodeAnonymousDisabled  = "anonymous_disabled"
	CodeNotAMember         = "not_a_member"
	CodeSpeakerBusy        = "speaker_busy"
	CodePolicyDenied       = "policy_denied"
	CodeInvalidMessage     = "invalid_message"
	CodeInvalidChannel     = "invalid_channel"
	CodeHistoryUnavailable = "history_unavailable"
)

// FormatPCM is the only audio format written to message history. Other
// formats are relayed live but never persisted.
const FormatPCM = "pcm"
