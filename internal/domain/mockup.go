package domain

// Mockup is a product photo template. DesignAreas is the number of design
// slots (1 or 2) the template accepts.
type Mockup struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ObjectKey   string `json:"object_key"`
	DesignAreas int    `json:"design_areas"`
}

var mockups = []Mockup{
	{ID: "black-oversized-front", Name: "Black Oversized (Front)", ObjectKey: "mockups/black-oversized-front.png", DesignAreas: 1},
	{ID: "white-oversized-front", Name: "White Oversized (Front)", ObjectKey: "mockups/white-oversized-front.png", DesignAreas: 1},
	{ID: "black-oversized-back", Name: "Black Oversized (Back)", ObjectKey: "mockups/black-oversized-back.png", DesignAreas: 1},
	{ID: "white-oversized-back", Name: "White Oversized (Back)", ObjectKey: "mockups/white-oversized-back.png", DesignAreas: 1},
	{ID: "black-dual-oversized", Name: "Black Oversized (Front/Back)", ObjectKey: "mockups/black-dual-oversized.png", DesignAreas: 2},
	{ID: "white-dual-oversized", Name: "White Oversized (Front/Back)", ObjectKey: "mockups/white-dual-oversized.png", DesignAreas: 2},
}

func Mockups() []Mockup {
	out := make([]Mockup, len(mockups))
	copy(out, mockups)
	return out
}

func FindMockup(id string) (Mockup, bool) {
	for _, m := range mockups {
		if m.ID == id {
			return m, true
		}
	}
	return Mockup{}, false
}

// SlotLabel names a design slot for display. Labels follow the slot index,
// not the design occupying it.
func SlotLabel(designAreas, index int) string {
	if designAreas < 2 {
		return "Design"
	}
	if index == 0 {
		return "Front Design"
	}
	return "Back Design"
}
