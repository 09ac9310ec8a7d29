package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishOrder(t *testing.T) {
	b := New[int]()
	var got []string

	b.Subscribe(func(v int) { got = append(got, "a") })
	b.Subscribe(func(v int) { got = append(got, "b") })
	b.Publish(1)

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 2, b.Len())
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New[string]()
	var count int

	cancel := b.Subscribe(func(string) { count++ })
	b.Publish("x")
	cancel()
	cancel()
	b.Publish("y")

	assert.Equal(t, 1, count)
	assert.Zero(t, b.Len())
}

func TestBus_HandlerCanUnsubscribeItself(t *testing.T) {
	b := New[int]()
	var count int

	var cancel func()
	cancel = b.Subscribe(func(int) {
		count++
		cancel()
	})
	b.Publish(1)
	b.Publish(2)

	assert.Equal(t, 1, count)
}

func TestBus_Close(t *testing.T) {
	b := New[int]()
	var count int
	b.Subscribe(func(int) { count++ })

	b.Close()
	b.Publish(1)
	cancel := b.Subscribe(func(int) { count++ })
	cancel()
	b.Publish(2)

	assert.Zero(t, count)
}
