package model

import "encoding/json"

// Manufacturer as returned by the remote service.
type Manufacturer struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ModelCount int    `json:"modelCount"`
}

// UnmarshalJSON accepts both the documented shape and the document-database shape
// ("_id") the service actually emits.
func (m *Manufacturer) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID         string `json:"id"`
		MongoID    string `json:"_id"`
		Name       string `json:"name"`
		ModelCount int    `json:"modelCount"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.ID = firstNonEmpty(raw.ID, raw.MongoID)
	m.Name = raw.Name
	m.ModelCount = raw.ModelCount
	return nil
}

// CarModel as returned by the remote service.
type CarModel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ManufacturerID string `json:"manufacturerId"`
}

// UnmarshalJSON accepts "_id" and "manufacturer" as aliases.
func (c *CarModel) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID             string `json:"id"`
		MongoID        string `json:"_id"`
		Name           string `json:"name"`
		ManufacturerID string `json:"manufacturerId"`
		Manufacturer   string `json:"manufacturer"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	c.ID = firstNonEmpty(raw.ID, raw.MongoID)
	c.Name = raw.Name
	c.ManufacturerID = firstNonEmpty(raw.ManufacturerID, raw.Manufacturer)
	return nil
}

// DeleteResult describes a cascading manufacturer delete.
type DeleteResult struct {
	ManufacturerID  string   `json:"manufacturerId"`
	DeletedModelIDs []string `json:"deletedModelIds,omitempty"`
}

// EntityRef is the mirror payload for operations that only name an existing entity.
type EntityRef struct {
	ID string `json:"id"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
