package utils_test

import (
	"os"

	"github.com/scusemua/gokernel/common/utils"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("GetEnv", func() {
	const name = "GOKERNEL_UTILS_TEST_VARIABLE"

	AfterEach(func() {
		Expect(os.Unsetenv(name)).To(Succeed())
	})

	It("should return the value of a set variable", func() {
		Expect(os.Setenv(name, "value")).To(Succeed())
		Expect(utils.GetEnv(name, "default")).To(Equal("value"))
	})

	It("should return the default for an unset or empty variable", func() {
		Expect(utils.GetEnv(name, "default")).To(Equal("default"))

		Expect(os.Setenv(name, "")).To(Succeed())
		Expect(utils.GetEnv(name, "default")).To(Equal("default"))
	})
})
