package chat

// Identity is the verified user bound to a connection.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// inboundEnvelope is one client→server message frame.
type inboundEnvelope struct {
	Recipient string       `json:"recipient"`
	Text      string       `json:"text,omitempty"`
	File      *inboundFile `json:"file,omitempty"`
}

// inboundFile carries an attachment as a data-URI style payload: the
// base64 segment follows the first comma.
type inboundFile struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// deliveryEnvelope is the server→recipient frame for one relayed message.
// File is null when the message carried no attachment.
type deliveryEnvelope struct {
	Text      string  `json:"text"`
	File      *string `json:"file"`
	Sender    string  `json:"sender"`
	Recipient string  `json:"recipient"`
	ID        string  `json:"_id"`
}

// presenceEnvelope announces the online roster to every live connection.
type presenceEnvelope struct {
	Online []Identity `json:"online"`
}

// errorEnvelope tells a sender why its frame was rejected.
type errorEnvelope struct {
	Error string `json:"error"`
}
