package task

import "encoding/json"

const KindCreateAlias = "create_alias"

// AliasTask joins the pre-signup analytics identity with the visitor identity.
type AliasTask struct {
	ExistingDistinctID string `json:"existing_mixpanel_id"`
	AliasID            string `json:"alias_id"`
}

var aliasFields = []string{"existing_mixpanel_id", "alias_id"}

// NewAliasTask validates and builds an alias task.
func NewAliasTask(existingDistinctID, aliasID string) (*AliasTask, error) {
	t := &AliasTask{ExistingDistinctID: existingDistinctID, AliasID: aliasID}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// DecodeAliasTask strictly decodes an alias task payload.
func DecodeAliasTask(payload json.RawMessage) (*AliasTask, error) {
	var t AliasTask
	if err := decodeStrict(KindCreateAlias, payload, aliasFields, &t); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *AliasTask) Kind() string { return KindCreateAlias }

func (t *AliasTask) Validate() error {
	if err := requireNonEmpty(KindCreateAlias, "existing_mixpanel_id", t.ExistingDistinctID); err != nil {
		return err
	}
	return requireNonEmpty(KindCreateAlias, "alias_id", t.AliasID)
}
