// Package rpc содержит общие детали gRPC-транспорта: JSON-кодек и опции вызова.
//
// Сервисы заказов и каталога описаны вручную через grpc.ServiceDesc, сообщения —
// обычные Go-структуры. Кодек регистрируется под подтипом "json", поэтому
// клиенты выбирают его через grpc.CallContentSubtype(rpc.CodecName).
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName — content-subtype, под которым зарегистрирован кодек (application/grpc+json).
const CodecName = "json"

// Codec сериализует gRPC-сообщения в JSON.
type Codec struct{}

// Marshal кодирует сообщение.
func (Codec) Marshal(v any) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("rpc: marshal nil message")
	}
	return json.Marshal(v)
}

// Unmarshal декодирует сообщение. Пустое тело оставляет значение нулевым.
func (Codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// Name возвращает имя кодека.
func (Codec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(Codec{})
}

// CallOption выбирает JSON-кодек для исходящего вызова.
func CallOption() grpc.CallOption {
	return grpc.CallContentSubtype(CodecName)
}
