// internal/model/access.go
package model

// AccessEvent 는 원격 서블릿 컨테이너가 보낸 HTTP access 로그 한 건.
type AccessEvent struct {
	Timestamp         *int64              `json:"timestamp,omitempty" bson:"timestamp,omitempty"`
	RequestURI        string              `json:"request_uri" bson:"request_uri"`
	RequestURL        string              `json:"request_url" bson:"request_url"`
	RemoteHost        string              `json:"remote_host" bson:"remote_host"`
	RemoteUser        string              `json:"remote_user" bson:"remote_user"`
	RemoteAddress     string              `json:"remote_address" bson:"remote_address"`
	Protocol          string              `json:"protocol" bson:"protocol"`
	Method            string              `json:"method" bson:"method"`
	ServerName        string              `json:"server_name" bson:"server_name"`
	RequestHeaders    map[string]string   `json:"request_headers" bson:"request_headers"`
	ResponseHeaders   map[string]string   `json:"response_headers" bson:"response_headers"`
	RequestParameters map[string][]string `json:"request_parameters" bson:"request_parameters"`
	LocalPort         int32               `json:"local_port" bson:"local_port"`
	StatusCode        int32               `json:"status_code" bson:"status_code"`
	LoggerContext     *LoggerContext      `json:"logger_context,omitempty" bson:"logger_context,omitempty"`
}
