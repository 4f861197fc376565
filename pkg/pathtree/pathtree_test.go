package pathtree_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/overlaycore/magicmount/pkg/pathtree"
)

var _ = Describe("path node tree", func() {
	It("assembles absolute paths from ancestors", func() {
		root := pathtree.NewRoot("system", pathtree.Inter)
		etc := pathtree.New("etc", pathtree.Inter, pathtree.Directory)
		root.Insert(etc)
		hosts := pathtree.New("hosts", pathtree.Module, pathtree.Regular)
		hosts.OwnerModule = "hosts_mod"
		etc.Insert(hosts)

		Expect(root.Path()).To(Equal("/system"))
		Expect(etc.Path()).To(Equal("/system/etc"))
		Expect(hosts.Path()).To(Equal("/system/etc/hosts"))
	})

	Context("precedence resolution on insert", func() {
		It("keeps the higher-precedence node and discards the loser", func() {
			root := pathtree.NewRoot("system", pathtree.Inter)
			lib := pathtree.New("lib", pathtree.Inter, pathtree.Directory)
			root.Insert(lib)

			fromA := pathtree.New("libx.so", pathtree.Module, pathtree.Regular)
			fromA.OwnerModule = "a"
			lib.Insert(fromA)

			fromB := pathtree.New("libx.so", pathtree.Module, pathtree.Regular)
			fromB.OwnerModule = "b"
			effective := lib.Insert(fromB)

			Expect(effective.OwnerModule).To(Equal("b"))
			child, ok := lib.Child("libx.so")
			Expect(ok).To(BeTrue())
			Expect(child.OwnerModule).To(Equal("b"))
			Expect(len(lib.Children())).To(Equal(1))
		})

		It("is idempotent when the same module inserts twice", func() {
			root := pathtree.NewRoot("system", pathtree.Inter)
			first := pathtree.New("bin", pathtree.Module, pathtree.Directory)
			first.OwnerModule = "a"
			root.Insert(first)

			second := pathtree.New("bin", pathtree.Module, pathtree.Directory)
			second.OwnerModule = "a"
			effective := root.Insert(second)

			Expect(effective).To(BeIdenticalTo(first))
			Expect(len(root.Children())).To(Equal(1))
		})

		It("never duplicates a sibling name", func() {
			root := pathtree.NewRoot("system", pathtree.Inter)
			root.Insert(pathtree.New("etc", pathtree.Inter, pathtree.Directory))
			root.Insert(pathtree.New("etc", pathtree.Skel, pathtree.Directory))
			Expect(len(root.Children())).To(Equal(1))
		})
	})

	Context("extract", func() {
		It("detaches a subtree and leaves a non-descendable placeholder", func() {
			root := pathtree.NewRoot("system", pathtree.Inter)
			vendor := pathtree.New("vendor", pathtree.Inter, pathtree.Directory)
			root.Insert(vendor)

			extracted := root.Extract("vendor")
			Expect(extracted).To(BeIdenticalTo(vendor))
			Expect(extracted.Parent).To(BeNil())

			placeholder, ok := root.Child("vendor")
			Expect(ok).To(BeTrue())
			Expect(placeholder.Extracted).To(BeTrue())
			Expect(placeholder.Parent).To(BeIdenticalTo(root))
		})
	})

	It("reports the bitset as a human readable label", func() {
		s := pathtree.Module | pathtree.Skel
		Expect(s.String()).To(Equal("MODULE|SKEL"))
	})
})
