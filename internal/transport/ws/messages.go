package ws

import (
	"encoding/json"
	"net/http"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/palette"
	"github.com/JLerxky/prime-game-sub000/internal/mapgen/wfc"
	"github.com/JLerxky/prime-game-sub000/internal/persistence/snapshot"
	"github.com/JLerxky/prime-game-sub000/internal/protocol"
)

func WelcomeMessage(m *snapshot.MapV1) protocol.WelcomeMsg {
	lo := m.Region().Min()
	msg := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		MapID:           m.Header.MapID,
		Seed:            m.Header.Seed,
		Region: protocol.RegionRef{
			Center: m.Center,
			Size:   m.Size,
			Min:    [3]int{lo.X, lo.Y, lo.Z},
		},
		Layers:        append([]int{}, m.Layers...),
		Planes:        []int{},
		Palette:       m.Palette,
		CatalogDigest: m.CatalogDigest,
	}
	if p, err := palette.FromIDs(m.Palette); err == nil {
		msg.PaletteDigest = p.Digest()
	}
	for _, p := range m.Planes {
		msg.Planes = append(msg.Planes, p.Z)
	}
	return msg
}

// PlaneMessage encodes plane z of m. It reports false when m has no plane at z.
func PlaneMessage(m *snapshot.MapV1, z int) (protocol.PlaneMsg, bool) {
	for _, p := range m.Planes {
		if p.Z != z {
			continue
		}
		lo := m.Region().Min()
		return protocol.PlaneMsg{
			Type:            protocol.TypePlane,
			ProtocolVersion: protocol.Version,
			MapID:           m.Header.MapID,
			Z:               p.Z,
			Layer:           p.Layer,
			MinX:            lo.X,
			MinY:            lo.Y,
			Width:           m.Size[0],
			Height:          m.Size[1],
			Encoding:        "RLE",
			Data:            palette.EncodePlane(p.Cells),
		}, true
	}
	return protocol.PlaneMsg{}, false
}

// MapSummary is the body of the plain HTTP map endpoint.
type MapSummary struct {
	Welcome protocol.WelcomeMsg `json:"welcome"`
	Counts  map[string]int      `json:"counts"`
	Clients int                 `json:"clients"`
	Summary wfc.Summary         `json:"summary"`
}

// MapHandler serves the current map's WELCOME plus per-tile counts as JSON, so
// tools can inspect the map without speaking the websocket protocol.
func (s *Server) MapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		m, ok := s.src.Current()
		rw.Header().Set("Content-Type", "application/json")
		if !ok {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(protocol.NewError(protocol.ErrMapNotReady, "map generation in progress"))
			return
		}
		_ = json.NewEncoder(rw).Encode(MapSummary{
			Welcome: WelcomeMessage(m),
			Counts:  m.Counts(),
			Clients: s.Clients(),
			Summary: m.Summary,
		})
	}
}
