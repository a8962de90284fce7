package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// Planes limits the planes streamed after WELCOME; empty means all.
	Planes []int `json:"planes,omitempty"`
}

// WELCOME (server -> client), sent after the handshake and whenever the map
// is replaced.
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	MapID           string    `json:"map_id"`
	Seed            uint64    `json:"seed"`
	Region          RegionRef `json:"region"`
	Layers          []int     `json:"layers"`
	Planes          []int     `json:"planes"`
	Palette         []string  `json:"palette"`
	PaletteDigest   string    `json:"palette_digest"`
	CatalogDigest   string    `json:"catalog_digest"`
}

type RegionRef struct {
	Center [3]int `json:"center"`
	Size   [3]int `json:"size"`
	Min    [3]int `json:"min"`
}

// PLANE (server -> client). Data is the RLE of Width*Height palette indices in
// row-major (y, x) order starting at (MinX, MinY).
type PlaneMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	MapID           string `json:"map_id"`
	Z               int    `json:"z"`
	Layer           int    `json:"layer"`
	MinX            int    `json:"min_x"`
	MinY            int    `json:"min_y"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	Encoding        string `json:"encoding"`
	Data            string `json:"data"`
}

// GET_PLANE (client -> server) asks for one plane of the current map again.
type GetPlaneMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Z               int    `json:"z"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
