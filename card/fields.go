package card

// Extension fields and parameters not covered by the vcard package.
const (
	fieldProfession  = "X-PROFESSION"
	fieldAssistant   = "X-ASSISTANT"
	fieldManager     = "X-MANAGER"
	fieldChildren    = "X-CHILDREN"
	fieldSpouse      = "X-SPOUSE"
	fieldAnniversary = "X-ANNIVERSARY"
	fieldGender      = "X-GENDER"
	fieldSex         = "SEX"
	fieldCategory    = "CATEGORY"
	fieldFreeBusy    = "FBURL"
	fieldAppleKind   = "X-ADDRESSBOOKSERVER-KIND"
	fieldAppleMember = "X-ADDRESSBOOKSERVER-MEMBER"

	paramEncoding    = "ENCODING"
	paramServiceType = "X-SERVICE-TYPE"

	memberPrefix = "urn:uuid:"
)

// imFields maps legacy instant messaging fields to their protocol.
var imFields = map[string]string{
	"X-JABBER": "jabber",
	"X-ICQ":    "icq",
	"X-MSN":    "msn",
	"X-AIM":    "aim",
	"X-YAHOO":  "yahoo",
	"X-SKYPE":  "skype",
}

// imProtocolsIn normalizes protocol names found on the wire; imProtocolsOut
// is its inverse for legacy fields.
var (
	imProtocolsIn  = map[string]string{"jabber": "xmpp"}
	imProtocolsOut = map[string]string{"xmpp": "jabber"}
)

// phoneTypesIn maps TEL types to record phone types; phoneTypesOut maps
// record phone types to the TYPE values written.
var (
	phoneTypesIn = map[string]string{
		"voice":     "main",
		"cell":      "mobile",
		"textphone": "other",
	}
	phoneTypesOut = map[string][]string{
		"main":    {"VOICE"},
		"mobile":  {"CELL"},
		"other":   {"TEXTPHONE"},
		"homefax": {"HOME", "FAX"},
		"workfax": {"WORK", "FAX"},
	}
)
