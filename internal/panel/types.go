package panel

import "fmt"

// ClientIdentity идентифицирует клиента панели: UUID плюс email-метка,
// уникальная в пределах inbound.
type ClientIdentity struct {
	ClientID string
	Label    string
}

// Inbound описание inbound'а панели, используется только для инспекции.
type Inbound struct {
	ID       int    `json:"id"`
	Remark   string `json:"remark"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Enable   bool   `json:"enable"`
}

// AuthError ошибка авторизации в панели.
type AuthError struct {
	Msg string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("panel auth failed: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("panel auth failed: %s", e.Msg)
}

func (e *AuthError) Unwrap() error { return e.Err }

// PanelError ошибка операции над клиентом панели.
type PanelError struct {
	Op  string
	Msg string
	Err error
}

func (e *PanelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *PanelError) Unwrap() error { return e.Err }

// apiResponse общий конверт ответов панели.
type apiResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// clientEntry — клиент в settings inbound'а. Панель принимает settings
// как JSON-строку внутри JSON-запроса.
type clientEntry struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	Enable     bool   `json:"enable"`
	TgID       string `json:"tgId"`
	SubID      string `json:"subId"`
}

type clientSettings struct {
	Clients []clientEntry `json:"clients"`
}

type clientRequest struct {
	ID       int    `json:"id"`
	Settings string `json:"settings"`
}

type listResponse struct {
	Success bool      `json:"success"`
	Msg     string    `json:"msg"`
	Obj     []Inbound `json:"obj"`
}
