package db

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"skillswap/models"
)

// Notification payloads are stored as deterministic CBOR so that the same
// notification always produces identical bytes and field contents need no
// escaping.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("db: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("db: CBOR decoder initialization failed: " + err.Error())
	}
}

type notificationPayload struct {
	From  string `cbor:"1,keyasint,omitempty"`
	Skill string `cbor:"2,keyasint,omitempty"`
	Email string `cbor:"3,keyasint,omitempty"`
	Phone string `cbor:"4,keyasint,omitempty"`
	Text  string `cbor:"5,keyasint,omitempty"`
}

func encodePayload(n models.Notification) ([]byte, error) {
	data, err := encMode.Marshal(notificationPayload{
		From:  n.From,
		Skill: n.Skill,
		Email: n.Email,
		Phone: n.Phone,
		Text:  n.Text,
	})
	return data, errors.Wrap(err, "failed to encode notification payload")
}

func decodePayload(data []byte, n *models.Notification) error {
	var p notificationPayload
	if err := decMode.Unmarshal(data, &p); err != nil {
		return errors.Wrap(err, "failed to decode notification payload")
	}
	switch n.Kind {
	case models.KindConnectionRequest, models.KindContactShared:
		if p.From == "" {
			return errors.Errorf("%s notification without sender", n.Kind)
		}
	}
	n.From = p.From
	n.Skill = p.Skill
	n.Email = p.Email
	n.Phone = p.Phone
	n.Text = p.Text
	return nil
}
