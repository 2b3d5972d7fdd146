package oauthflow

import "net/url"

// Kind tags the terminal state of one callback.
type Kind int

const (
	Declined Kind = iota + 1
	StateError
	NoCode
	ExchangeError
	Connected
	ServerError
)

func (k Kind) String() string {
	switch k {
	case Declined:
		return "declined"
	case StateError:
		return "state_error"
	case NoCode:
		return "no_code"
	case ExchangeError:
		return "exchange_error"
	case Connected:
		return "connected"
	case ServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// Redirect reasons reported to the browser on error.
const (
	ReasonInvalidState  = "invalid_state"
	ReasonTokenExchange = "token_exchange"
	ReasonServerError   = "server_error"
)

// Outcome is the terminal result of a callback.
type Outcome struct {
	Kind     Kind
	Username string // set on Connected when the identity lookup succeeded
}

// Reason returns the error reason for error outcomes, "" otherwise.
func (o Outcome) Reason() string {
	switch o.Kind {
	case StateError:
		return ReasonInvalidState
	case ExchangeError:
		return ReasonTokenExchange
	case ServerError:
		return ReasonServerError
	default:
		return ""
	}
}

// RedirectQuery returns the status flag appended to the configuration page
// URL: oauth=success, oauth=declined, or oauth=error with a reason.
func (o Outcome) RedirectQuery() url.Values {
	q := url.Values{}
	switch o.Kind {
	case Connected:
		q.Set("oauth", "success")
	case Declined, NoCode:
		q.Set("oauth", "declined")
	default:
		q.Set("oauth", "error")
		q.Set("reason", o.Reason())
	}
	return q
}
